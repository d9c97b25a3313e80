// Package metrics exposes the engine's Prometheus collectors: generic HTTP
// instrumentation plus domain counters for batch throughput, retries, the
// event bus, and destination circuit breakers.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every collector the engine registers.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mirror_layer",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror_layer",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mirror_layer",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	// BatchItemsTotal counts items dispatched by the scheduler, per job type
	// and outcome (success/failure).
	BatchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror_layer",
		Subsystem: "batch",
		Name:      "items_total",
		Help:      "Total batch items processed, by job type and outcome.",
	}, []string{"job_type", "outcome"})

	// BatchItemDuration observes per-item execution time.
	BatchItemDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mirror_layer",
		Subsystem: "batch",
		Name:      "item_duration_seconds",
		Help:      "Duration of a single batch item's executor call.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job_type"})

	// RetryTotal counts repository retries submitted via /job/retry.
	RetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mirror_layer",
		Subsystem: "batch",
		Name:      "retries_total",
		Help:      "Total number of repositories re-enqueued via a retry batch.",
	})

	// EventBusQueueDepth reports the number of buffered events awaiting
	// delivery to a subscriber, per user, sampled on each publish.
	EventBusQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mirror_layer",
		Subsystem: "events",
		Name:      "queue_depth",
		Help:      "Number of buffered events per subscribed user.",
	}, []string{"user_id"})

	// EventBusDropped counts events dropped because a subscriber's buffer
	// was full.
	EventBusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirror_layer",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total number of events dropped due to a full subscriber buffer.",
	}, []string{"user_id"})

	// CircuitBreakerState reports each destination circuit breaker's state
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mirror_layer",
		Subsystem: "destination",
		Name:      "circuit_breaker_state",
		Help:      "Destination circuit breaker state: 0=closed, 1=half-open, 2=open.",
	}, []string{"user_id"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		BatchItemsTotal,
		BatchItemDuration,
		RetryTotal,
		EventBusQueueDepth,
		EventBusDropped,
		CircuitBreakerState,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP request metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordBatchItem records the outcome and duration of one executed batch item.
func RecordBatchItem(jobType string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	BatchItemsTotal.WithLabelValues(jobType, outcome).Inc()
	BatchItemDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush forwards to the underlying ResponseWriter so handlers streaming a
// long-lived response (the /sse endpoint) are not buffered behind this
// wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// canonicalPath collapses path parameters (repository ids) so the requests
// and duration metrics do not grow one series per distinct id.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 {
		return "/"
	}
	if parts[0] == "repositories" && len(parts) >= 2 {
		if len(parts) == 2 {
			return "/repositories/:id"
		}
		return "/repositories/:id/" + strings.Join(parts[2:], "/")
	}
	return "/" + parts[0]
}
