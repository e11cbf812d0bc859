// Package metrics provides Prometheus metrics for regwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportRowsTotal counts source rows by import outcome
	// (created, updated, skipped, review).
	ImportRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of imported source rows by outcome",
		},
		[]string{"source", "outcome"},
	)

	// MatchOutcomesTotal counts fuzzy match classifications.
	MatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "match",
			Name:      "outcomes_total",
			Help:      "Total number of fuzzy match outcomes by bucket",
		},
		[]string{"profile", "bucket"},
	)

	// WatchDetectionsTotal counts watch entries flipped to detected.
	WatchDetectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "watchlist",
			Name:      "detections_total",
			Help:      "Total number of watch entries detected in the registry",
		},
	)

	// CrossChecksTotal counts cross-check results by status.
	CrossChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "crosscheck",
			Name:      "results_total",
			Help:      "Total number of cross-check results by status",
		},
		[]string{"status"},
	)

	// CrossCheckFallbacksTotal counts neutral fallback results by reason.
	CrossCheckFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "crosscheck",
			Name:      "fallbacks_total",
			Help:      "Total number of cross-check fallbacks by reason",
		},
		[]string{"reason"},
	)

	// CrossCheckDuration tracks scorer call latency.
	CrossCheckDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "regwatch",
			Subsystem: "crosscheck",
			Name:      "duration_seconds",
			Help:      "Duration of cross-check calls in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// CrossCheckTokensTotal counts model tokens by kind
	// (input, output, cache_write, cache_read).
	CrossCheckTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "crosscheck",
			Name:      "tokens_total",
			Help:      "Total number of model tokens consumed by cross-checks",
		},
		[]string{"kind"},
	)

	// CrossCheckCostUSD accumulates the estimated model spend.
	CrossCheckCostUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "crosscheck",
			Name:      "cost_usd_total",
			Help:      "Estimated cross-check model cost in USD",
		},
	)

	// CacheLookupsTotal counts region score cache lookups.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups by result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "regwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "regwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
)
