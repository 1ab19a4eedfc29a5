package cacheserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry so
// multiple server instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	Requests    *prometheus.CounterVec
	StoredBytes prometheus.Counter
	ServedBytes prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polykit_cache_requests_total",
			Help: "Artifact requests by method and status code.",
		}, []string{"method", "code"}),
		StoredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polykit_cache_stored_bytes_total",
			Help: "Total compressed bytes accepted by PUT.",
		}),
		ServedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "polykit_cache_served_bytes_total",
			Help: "Total compressed bytes served by GET.",
		}),
	}
	registry.MustRegister(m.Requests, m.StoredBytes, m.ServedBytes)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
