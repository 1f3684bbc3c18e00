package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Local API request rate by route template and status class.
	HTTPRequestsTotal *prometheus.CounterVec

	// Local API latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Local API requests currently being served.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream calls per endpoint (forecast, geocoding) and status. Watch for: error vs success ratio.
	ForecastAPICallsTotal *prometheus.CounterVec

	// Upstream latency. Watch for: p95 close to the 10s client timeout.
	ForecastAPIDuration *prometheus.HistogramVec

	// Retry attempts per endpoint. High values mean an unstable upstream.
	ForecastAPIRetriesTotal *prometheus.CounterVec

	// Upstream failures by category (timeout, rate_limited, upstream_5xx, ...).
	ForecastAPIErrorsTotal *prometheus.CounterVec

	// Location store operations by op and result (ok, already_exists, not_found, fault).
	StoreOperationsTotal *prometheus.CounterVec

	// Forecast cache hits and misses.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// Panel prefetch runs, their failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Timer-driven refresh runs by result.
	AutoRefreshRunsTotal *prometheus.CounterVec

	// Pull-to-refresh gestures by result (triggered, cancelled, ignored, completed, failed).
	PullRefreshTotal *prometheus.CounterVec

	// Shared snapshot file writes by result.
	SnapshotWritesTotal *prometheus.CounterVec

	// Widget mirror executions.
	WidgetMirrorTicksTotal prometheus.Counter

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Local API requests denied by the rate limiter.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of local API requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "Local API latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of local API requests currently being served",
		},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total number of Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "Open-Meteo API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	ForecastAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiRetriesTotal",
			Help: "Total number of retry attempts for Open-Meteo API calls",
		},
		[]string{"endpoint"},
	)
	ForecastAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiErrorsTotal",
			Help: "Open-Meteo API failures by error category",
		},
		[]string{"category"},
	)
	StoreOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeOperationsTotal",
			Help: "Location store operations by operation and result",
		},
		[]string{"op", "result"},
	)
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Forecast cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Forecast cache misses",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Location panel prefetch runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Prefetch runs with at least one failed location",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Prefetch run duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	AutoRefreshRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoRefreshRunsTotal",
			Help: "Timer-driven refresh runs by result",
		},
		[]string{"result"},
	)
	PullRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pullRefreshTotal",
			Help: "Pull-to-refresh gesture outcomes",
		},
		[]string{"result"},
	)
	SnapshotWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotWritesTotal",
			Help: "Shared snapshot file writes by result",
		},
		[]string{"result"},
	)
	WidgetMirrorTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "widgetMirrorTicksTotal",
			Help: "Widget mirror executions",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of local API requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ForecastAPICallsTotal, ForecastAPIDuration, ForecastAPIRetriesTotal, ForecastAPIErrorsTotal,
		StoreOperationsTotal,
		CacheHitsTotal, CacheMissesTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		AutoRefreshRunsTotal, PullRefreshTotal,
		SnapshotWritesTotal, WidgetMirrorTicksTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RecordStoreOp counts a store operation outcome.
func RecordStoreOp(op, result string) {
	StoreOperationsTotal.WithLabelValues(op, result).Inc()
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
