// Package metrics exposes Prometheus instruments for backend traffic and
// tool operations.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "otelmcp"

// Metrics holds the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BackendRequests  *prometheus.CounterVec
	BackendLatency   *prometheus.HistogramVec
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	SpansProcessed   prometheus.Counter
	DocumentsSkipped *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Search backend requests by signal and HTTP status.",
		}, []string{"signal", "status"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Latency of search backend requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"signal"}),
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Tool and API operations by result kind.",
		}, []string{"operation", "result"}),
		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of tool and API operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		SpansProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_processed_total",
			Help:      "Spans normalized from backend documents.",
		}),
		DocumentsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_skipped_total",
			Help:      "Malformed backend documents skipped during normalization.",
		}, []string{"signal"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBackend records one backend round trip. status 0 means a transport error.
func (m *Metrics) ObserveBackend(signal string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.BackendRequests.WithLabelValues(signal, label).Inc()
	m.BackendLatency.WithLabelValues(signal).Observe(d.Seconds())
}

// ObserveOperation records one completed operation; result is "ok" or an error kind.
func (m *Metrics) ObserveOperation(operation, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, result).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// AddSpans counts normalized spans.
func (m *Metrics) AddSpans(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SpansProcessed.Add(float64(n))
}

// AddSkipped counts malformed documents of one signal.
func (m *Metrics) AddSkipped(signal string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DocumentsSkipped.WithLabelValues(signal).Add(float64(n))
}
