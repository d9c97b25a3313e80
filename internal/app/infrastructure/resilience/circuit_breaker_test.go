package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestCircuitBreakerTripsAfterMaxFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 3, Timeout: time.Hour, HalfOpenMax: 1})

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}
	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := New(Config{MaxFailures: 5, Timeout: time.Hour, HalfOpenMax: 1})

	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error { return errBoom })
	}
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2})

	err := cb.Execute(context.Background(), func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	err = cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2})

	_ = cb.Execute(context.Background(), func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 2})

	_ = cb.Execute(context.Background(), func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerLimitsHalfOpenTrials(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})

	_ = cb.Execute(context.Background(), func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	// consume the single half-open trial slot with a request that never
	// resolves before the second call checks in.
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func() error {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	err := cb.Execute(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.ErrorIs(t, err, ErrTooManyRequests)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	close(release)
	require.NoError(t, <-done)
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 5, cfg.MaxFailures)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, 3, cfg.HalfOpenMax)
}

func TestNewAppliesDefaultsForZeroValues(t *testing.T) {
	cb := New(Config{})
	require.Equal(t, StateClosed, cb.State())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "open", StateOpen.String())
	require.Equal(t, "half-open", StateHalfOpen.String())
	require.Equal(t, "unknown", State(99).String())
}
