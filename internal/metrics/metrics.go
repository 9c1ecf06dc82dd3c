// Package metrics provides Prometheus metrics for the MTG finder.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtgfinder_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtgfinder_http_rate_limited_total",
			Help: "Requests rejected by the per-client API rate limit",
		},
	)

	// Acquisition Metrics
	AcquisitionPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_acquisition_pages_total",
			Help: "Listing pages fetched during acquisition",
		},
		[]string{"dataset", "result"}, // result: "ok", "failed"
	)

	AcquisitionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_acquisition_runs_total",
			Help: "Acquisition runs by outcome",
		},
		[]string{"dataset", "result"}, // result: "complete", "partial", "failed"
	)

	AcquisitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mtgfinder_acquisition_duration_seconds",
			Help:    "Wall-clock time of a full dataset acquisition",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"dataset"},
	)

	// Upstream Metrics
	FetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_fetch_retries_total",
			Help: "Upstream requests retried after a transient failure",
		},
		[]string{"upstream"},
	)

	RateLimitSignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_rate_limit_signals_total",
			Help: "HTTP 429 responses received from upstreams",
		},
		[]string{"upstream"},
	)

	ExchangeRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mtgfinder_exchange_rate_local_per_reference",
			Help: "Local currency units per reference currency unit in use",
		},
	)

	ExchangeRateFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtgfinder_exchange_rate_fallbacks_total",
			Help: "Times the exchange rate source was unavailable and a fallback rate was used",
		},
	)

	// Snapshot Metrics
	SnapshotEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mtgfinder_snapshot_entries",
			Help: "Number of entries in the latest snapshot",
		},
		[]string{"dataset"},
	)

	SnapshotCollectedAt = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mtgfinder_snapshot_collected_timestamp_seconds",
			Help: "Unix time the latest snapshot was collected",
		},
		[]string{"dataset"},
	)

	// Query Metrics
	QueryResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mtgfinder_query_results_total",
			Help: "Cards returned by queries",
		},
		[]string{"query"}, // "underpriced", "commander"
	)

	RecommendationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtgfinder_recommendation_cache_hits_total",
			Help: "Commander recommendation cache hit count",
		},
	)

	RecommendationCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mtgfinder_recommendation_cache_misses_total",
			Help: "Commander recommendation cache miss count",
		},
	)
)
