// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's Prometheus collectors. Collectors are
// registered against an injected registry so tests can use isolated ones.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts completed requests by method, service and status.
	RequestsTotal *prometheus.CounterVec

	// AuthFailuresTotal counts rejected requests by S3 error code.
	AuthFailuresTotal *prometheus.CounterVec

	// ProxiedBytesTotal counts body bytes relayed, by direction.
	ProxiedBytesTotal *prometheus.CounterVec

	// UpstreamDuration observes round-trip latency to the backend.
	UpstreamDuration *prometheus.HistogramVec

	// InFlight tracks requests currently being proxied.
	InFlight prometheus.Gauge
}

// New creates and registers the gateway's collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Completed requests by method, signing service and status code.",
		}, []string{"method", "service", "status"}),
		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "auth_failures_total",
			Help:      "Rejected requests by S3 error code.",
		}, []string{"code"}),
		ProxiedBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "proxied_bytes_total",
			Help:      "Body bytes relayed through the proxy by direction.",
		}, []string{"direction"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "upstream_duration_seconds",
			Help:      "Round-trip latency of proxied backend calls.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "in_flight_requests",
			Help:      "Requests currently being proxied upstream.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.AuthFailuresTotal,
		m.ProxiedBytesTotal,
		m.UpstreamDuration,
		m.InFlight,
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
