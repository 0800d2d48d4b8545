package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Sync/refresh results
	ResultSuccess     = "success"
	ResultFailure     = "failure"
	ResultRateLimited = "rate_limited"

	// Data types
	DataTypeWorkouts      = "workouts"
	DataTypeMeasurements  = "measurements"
	DataTypeSleep         = "sleep"
	DataTypeDailyActivity = "daily_activity"

	// Skip reasons
	SkipReasonMissingStart = "missing_start"
	SkipReasonUnknownCode  = "unknown_code"
	SkipReasonMalformed    = "malformed"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Sync Metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by provider, mode and result",
		},
		[]string{"provider", "mode", "result"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "End to end sync run duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"provider", "mode"},
	)

	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_errors_total",
			Help: "Capture-phase fetch failures by provider and data type",
		},
		[]string{"provider", "data_type"},
	)
)

// Normalization Metrics
var (
	RecordsNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_normalized_total",
			Help: "Records written to canonical storage",
		},
		[]string{"provider", "data_type"},
	)

	RecordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "records_skipped_total",
			Help: "Records dropped during normalization with the reason",
		},
		[]string{"provider", "data_type", "reason"},
	)
)

// Credential Metrics
var (
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "OAuth token refresh attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	ActiveLinks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_provider_links",
			Help: "Number of active provider links",
		},
		[]string{"provider"},
	)
)

// Replay Metrics
var (
	RawCapturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raw_captures_total",
			Help: "Raw payloads persisted to the replay store",
		},
		[]string{"provider", "data_type"},
	)
)
