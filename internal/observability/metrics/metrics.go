package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storelink_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storelink_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	lifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storelink_lifecycle_events_total",
		Help: "Lifecycle transitions by event and result",
	}, []string{"event", "result"})

	purchaseCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storelink_purchase_cache_lookups_total",
		Help: "Recently purchased cache lookups by outcome (hit, miss, bypass, error)",
	}, []string{"outcome"})

	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storelink_platform_request_duration_seconds",
		Help:    "Duration of commerce platform API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storelink_platform_circuit_state",
		Help: "Platform API circuit breaker state (0 closed, 1 open, 2 half open)",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// ObserveLifecycle counts a lifecycle transition (install, load, uninstall, ...)
func ObserveLifecycle(event, result string) {
	lifecycleEvents.WithLabelValues(event, result).Inc()
}

// ObservePurchaseCache counts a cache lookup outcome
func ObservePurchaseCache(outcome string) {
	purchaseCacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records the duration of a platform API call
func ObserveUpstream(operation, result string, duration time.Duration) {
	upstreamDuration.WithLabelValues(operation, result).Observe(duration.Seconds())
}

// SetBreakerState records the platform circuit breaker state
func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}
