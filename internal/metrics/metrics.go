// Package metrics exposes Prometheus collectors for the recommendation
// pipeline, its upstream calls and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	// Pipeline
	RecommendationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_recommendation_runs_total",
			Help: "Recommendation requests by outcome kind",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	RecommendationsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "animerec_recommendations_returned",
			Help:    "Number of recommendations in successful responses",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	// Cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerec_cache_hits_total",
			Help: "Result cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "animerec_cache_misses_total",
			Help: "Result cache misses",
		},
	)

	// Upstream
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_upstream_requests_total",
			Help: "Requests to AniList and MyAnimeList by status code",
		},
		[]string{"source", "code"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_upstream_request_duration_seconds",
			Help:    "Latency of upstream requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animerec_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// HTTP API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animerec_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "code"},
	)

	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animerec_api_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// ObserveStage records how long a stage took.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveUpstream records one upstream request. A zero code means the
// request never produced a response.
func ObserveUpstream(source string, code int, d time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	UpstreamRequests.WithLabelValues(source, label).Inc()
	UpstreamDuration.WithLabelValues(source).Observe(d.Seconds())
}

// SetBreakerState publishes a circuit breaker transition.
func SetBreakerState(name string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(v)
}

// ObserveAPI records one HTTP API request.
func ObserveAPI(method, route string, code int, d time.Duration) {
	APIRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	APIDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
