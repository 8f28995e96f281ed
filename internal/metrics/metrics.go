// Package metrics exposes Prometheus collectors for the coordinator service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	claimsTotal                *prometheus.CounterVec
	completionsTotal           *prometheus.CounterVec
	releasesTotal              *prometheus.CounterVec
	reapedWorkersTotal         prometheus.Counter
	etaSeconds                 prometheus.Gauge
	leader                     prometheus.Gauge
	cacheRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_claims_total",
				Help: "Total claim attempts, labeled by worker class and result.",
			},
			[]string{"class", "result"},
		)

		completionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_completions_total",
				Help: "Total completion reports, labeled by worker class and outcome.",
			},
			[]string{"class", "outcome"},
		)

		releasesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_releases_total",
				Help: "Jobs returned to the pool, labeled by reason.",
			},
			[]string{"reason"},
		)

		reapedWorkersTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "coordinator_reaped_workers_total",
				Help: "Workers removed by the idle reaper.",
			},
		)

		etaSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_eta_seconds",
				Help: "Most recent completion estimate in seconds; -1 when unknown.",
			},
		)

		leader = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "coordinator_leader",
				Help: "1 while this process holds singleton leadership.",
			},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coordinator_cache_requests_total",
				Help: "Response cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveClaim counts a claim attempt.
func ObserveClaim(class, result string) {
	Init()
	claimsTotal.WithLabelValues(class, result).Inc()
}

// ObserveCompletion counts a completion report.
func ObserveCompletion(class, outcome string) {
	Init()
	completionsTotal.WithLabelValues(class, outcome).Inc()
}

// ObserveRelease counts a job returned to the pool.
func ObserveRelease(reason string) {
	Init()
	releasesTotal.WithLabelValues(reason).Inc()
}

// ObserveReaped adds n reaped workers.
func ObserveReaped(n int) {
	Init()
	reapedWorkersTotal.Add(float64(n))
}

// SetETA publishes the latest estimate; pass a negative value when unknown.
func SetETA(seconds float64) {
	Init()
	etaSeconds.Set(seconds)
}

// SetLeader flips the leadership gauge.
func SetLeader(isLeader bool) {
	Init()
	if isLeader {
		leader.Set(1)
		return
	}
	leader.Set(0)
}

// ObserveCache counts a cache hit or miss.
func ObserveCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
