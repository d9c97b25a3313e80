package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	app "github.com/forgemirror/mirror-layer/internal/app"
	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
)

func TestSystemDescriptorsIncludeRegisteredServices(t *testing.T) {
	application, err := app.New(app.Stores{}, nil, nil)
	require.NoError(t, err)

	handler := NewHandler(application, newAuditLog(10, nil))

	req := httptest.NewRequest(http.MethodGet, "/system/descriptors", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var descr []core.Descriptor
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &descr))

	names := make(map[string]bool, len(descr))
	for _, d := range descr {
		names[d.Name] = true
	}
	require.True(t, names["batch-scheduler"], "expected the batch scheduler descriptor, got %+v", descr)
	require.True(t, names["schedule-controller"], "expected the schedule controller descriptor, got %+v", descr)
}

func TestHealthzIsPublic(t *testing.T) {
	application, err := app.New(app.Stores{}, nil, nil)
	require.NoError(t, err)

	handler := NewHandler(application, newAuditLog(10, nil))
	handler = wrapWithAuth(handler, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
}
