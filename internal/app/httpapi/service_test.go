package httpapi

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "github.com/forgemirror/mirror-layer/internal/app"
)

func TestServiceStartFailsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	application, err := app.New(app.Stores{}, nil, nil)
	require.NoError(t, err)

	svc := NewService(application, ln.Addr().String(), nil, nil, nil)
	require.Error(t, svc.Start(context.Background()))
}

func TestServiceRecordsBoundAddress(t *testing.T) {
	application, err := app.New(app.Stores{}, nil, nil)
	require.NoError(t, err)

	svc := NewService(application, "127.0.0.1:0", nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, svc.Start(ctx))
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = svc.Stop(stopCtx)
	}()

	bound := svc.Addr()
	require.NotEmpty(t, bound)
	require.NotEqual(t, "127.0.0.1:0", bound)
	require.True(t, strings.HasPrefix(bound, "127.0.0.1:"))
}
