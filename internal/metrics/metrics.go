// Package metrics holds the Prometheus collectors exported by agentlens.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery results recorded in agentlens_deliveries_total.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the collectors registered on a single registry.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	deliveriesTotal  *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec
}

// New creates a registry and registers all agentlens collectors on it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_requests_total",
				Help: "Total number of proxied requests by classified agent type",
			},
			[]string{"agent_type"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentlens_deliveries_total",
				Help: "Total number of visit event deliveries by sink and result",
			},
			[]string{"sink", "result"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentlens_delivery_duration_seconds",
				Help:    "Visit event delivery latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"sink"},
		),
	}

	m.registry.MustRegister(m.requestsTotal, m.deliveriesTotal, m.deliveryDuration)
	return m
}

// ObserveRequest counts one proxied request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(agentType string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(agentType).Inc()
}

// ObserveDelivery records the outcome of one sink delivery. Safe on a nil receiver.
func (m *Metrics) ObserveDelivery(sink, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(sink, result).Inc()
	m.deliveryDuration.WithLabelValues(sink).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for scraping and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format. A nil
// receiver serves an empty registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
