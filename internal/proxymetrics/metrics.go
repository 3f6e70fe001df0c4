// Package proxymetrics exposes Prometheus counters and histograms mirroring
// the stats map, registered on a dedicated registry served by the admin mux
// rather than the proxy listener itself.
package proxymetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors, one set per
// upstream_id via label.
type Metrics struct {
	Registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
}

// NewMetrics creates a fresh registry and registers the gateway's
// collectors on it.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,

		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_upstream_attempts_total",
				Help: "Total number of attempts dispatched to an upstream",
			},
			[]string{"upstream_id", "upstream_label", "result"},
		),

		attemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_gateway_upstream_attempt_duration_seconds",
				Help:    "Duration of a single upstream attempt in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"upstream_id", "upstream_label"},
		),
	}
}

// RecordAttempt records one dispatched attempt's outcome and duration.
func (m *Metrics) RecordAttempt(upstreamID, upstreamLabel string, durationMS int64, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.attemptsTotal.WithLabelValues(upstreamID, upstreamLabel, result).Inc()
	m.attemptDuration.WithLabelValues(upstreamID, upstreamLabel).Observe(float64(durationMS) / 1000.0)
}
