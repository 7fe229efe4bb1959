// Package metrics holds the Prometheus collectors for the order console.
// Collectors are registered with the default registry at init and served
// on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestTotals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderconsole_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderconsole_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	DraftsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderconsole_drafts_active",
			Help: "Drafting sessions currently open",
		},
	)

	OrdersFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderconsole_orders_finalized_total",
			Help: "Orders written to the ledger by finalize",
		},
	)

	FinalizeRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderconsole_finalize_rejections_total",
			Help: "Finalize attempts refused by a precondition",
		},
		[]string{"reason"},
	)

	ConsentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderconsole_consent_transitions_total",
			Help: "Consent record state changes by target state",
		},
		[]string{"to"},
	)

	OrdersCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderconsole_orders_cancelled_total",
			Help: "Orders moved to cancelled",
		},
	)

	RateLimiterBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderconsole_rate_limiter_buckets",
			Help: "Client token buckets currently tracked",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestTotals,
		HTTPRequestDuration,
		DraftsActive,
		OrdersFinalized,
		FinalizeRejections,
		ConsentTransitions,
		OrdersCancelled,
		RateLimiterBuckets,
	)
}
