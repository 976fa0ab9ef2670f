package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusHTTPMetrics implements MetricsCollector with a request counter and
// a latency histogram.
type PrometheusHTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusHTTPMetrics registers the HTTP collectors on reg.
func NewPrometheusHTTPMetrics(reg prometheus.Registerer) *PrometheusHTTPMetrics {
	factory := promauto.With(reg)
	return &PrometheusHTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avisos",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "avisos",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordRequest implements MetricsCollector.
func (m *PrometheusHTTPMetrics) RecordRequest(method, route, status string, d time.Duration) {
	m.requests.WithLabelValues(method, route, status).Inc()
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
}

var _ MetricsCollector = (*PrometheusHTTPMetrics)(nil)
