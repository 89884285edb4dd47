// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	TxSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_service",
			Subsystem: "orchestrator",
			Name:      "transactions_total",
			Help:      "Orchestrated transactions by kind and terminal state.",
		},
		[]string{"kind", "state"},
	)

	TxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matrix_service",
			Subsystem: "orchestrator",
			Name:      "transaction_duration_seconds",
			Help:      "Wall time from draft to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4m
		},
		[]string{"kind"},
	)

	AggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "matrix_service",
			Subsystem: "team",
			Name:      "aggregation_duration_seconds",
			Help:      "Duration of team aggregation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	AggregationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matrix_service",
			Subsystem: "team",
			Name:      "member_lookup_failures_total",
			Help:      "Per-address lookups that failed and were excluded from the fold.",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_service",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matrix_service",
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Contract events decoded and delivered.",
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(
		TxSubmitted,
		TxDuration,
		AggregationDuration,
		AggregationFailures,
		HTTPRequests,
		EventsDelivered,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
