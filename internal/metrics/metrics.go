// Package metrics is the gateway's MetricsSink: a lock-free counter and
// histogram registry exported in Prometheus text format using
// github.com/prometheus/client_golang, grounded on original_source's
// opentelemetry_prometheus exporter wiring in src/main.rs (ported to the
// native Go Prometheus client rather than via an OTel bridge).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the process-wide metrics registry. Every field is a Prometheus
// collector, which is itself lock-free/concurrency-safe by construction.
type Sink struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	RequestsTotal  *prometheus.CounterVec
	RequestsActive *prometheus.GaugeVec
	ErrorsTotal    *prometheus.CounterVec

	DiscoveryOps *prometheus.CounterVec

	RateLimitRejections *prometheus.CounterVec
}

// New builds and registers every collector against a fresh registry.
func New() *Sink {
	reg := prometheus.NewRegistry()

	s := &Sink{
		registry: reg,
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "sugora_request_duration_seconds",
			Help: "Edge request duration by endpoint and status.",
		}, []string{"endpoint", "status"}),
		RequestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sugora_request_size_bytes",
			Help:    "Estimated request size by endpoint.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"endpoint"}),
		ResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sugora_response_size_bytes",
			Help:    "Response size by endpoint.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"endpoint"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sugora_requests_total",
			Help: "Total requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		RequestsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sugora_requests_active",
			Help: "Currently active requests by endpoint.",
		}, []string{"endpoint"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sugora_errors_total",
			Help: "Errors by endpoint and status class.",
		}, []string{"endpoint", "class"}),
		DiscoveryOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sugora_discovery_operations_total",
			Help: "Discovery operations by source and outcome.",
		}, []string{"source", "outcome"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sugora_rate_limit_rejections_total",
			Help: "Rate limit rejections by endpoint.",
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		s.RequestDuration, s.RequestSize, s.ResponseSize,
		s.RequestsTotal, s.RequestsActive, s.ErrorsTotal,
		s.DiscoveryOps, s.RateLimitRejections,
	)
	return s
}

// Handler returns the text-exposition HTTP handler bound to /metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
