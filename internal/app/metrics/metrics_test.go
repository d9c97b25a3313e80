package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentHandlerRecordsRequest(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/repositories/abc-123", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.GreaterOrEqual(t, counterValue(t, httpRequests.WithLabelValues("POST", "/repositories/:id", "201")), float64(1))
}

func TestInstrumentHandlerSkipsMetricsPath(t *testing.T) {
	handler := InstrumentHandler(Handler())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordBatchItem(t *testing.T) {
	RecordBatchItem("mirror", 10*time.Millisecond, nil)
	assert.GreaterOrEqual(t, counterValue(t, BatchItemsTotal.WithLabelValues("mirror", "success")), float64(1))

	RecordBatchItem("mirror", 10*time.Millisecond, assert.AnError)
	assert.GreaterOrEqual(t, counterValue(t, BatchItemsTotal.WithLabelValues("mirror", "failure")), float64(1))
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                       "/",
		"/healthz":                "/healthz",
		"/repositories/abc":       "/repositories/:id",
		"/repositories/abc/status": "/repositories/:id/status",
		"/github/repositories":    "/github",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func counterValue(t *testing.T, c prometheus.Metric) float64 {
	t.Helper()
	m := &io_prometheus_client.Metric{}
	require.NoError(t, c.Write(m))
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	default:
		return 0
	}
}
