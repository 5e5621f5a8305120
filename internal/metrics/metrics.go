// Package metrics exposes Prometheus collectors for the dispatch service.
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
	hopperPopsTotal              *prometheus.CounterVec
	hopperEmptyPopsTotal         prometheus.Counter
	hopperPushesTotal            *prometheus.CounterVec
	hopperAcksTotal              *prometheus.CounterVec
	hopperRetriesTotal           *prometheus.CounterVec
	hopperActiveWorkers          prometheus.Gauge
	hopperProcessDurationSeconds *prometheus.HistogramVec
	hopperRateLimitDelaySeconds  *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		hopperPopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_pops_total",
				Help: "Total requests popped, labeled by source queue.",
			},
			[]string{"queue"},
		)

		hopperEmptyPopsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hopper_empty_pops_total",
				Help: "Total pop cycles that found every backend empty.",
			},
		)

		hopperPushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_pushes_total",
				Help: "Total requests pushed, labeled by target queue.",
			},
			[]string{"queue"},
		)

		hopperAcksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_acks_total",
				Help: "Total request finalizations, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		hopperRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hopper_retries_total",
				Help: "Total retry repushes, labeled by queue.",
			},
			[]string{"queue"},
		)

		hopperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hopper_active_workers",
				Help: "Number of workers currently processing a request.",
			},
		)

		hopperProcessDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_process_duration_seconds",
				Help:    "Histogram of request processing latencies, labeled by queue and outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"queue", "outcome"},
		)

		hopperRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hopper_rate_limit_delay_seconds",
				Help:    "Histogram of dispatch pacing delays, labeled by domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePop increments the pop counter for a queue.
func ObservePop(queue string) {
	hopperPopsTotal.WithLabelValues(queue).Inc()
}

// ObserveEmptyPop increments the empty-cycle counter.
func ObserveEmptyPop() {
	hopperEmptyPopsTotal.Inc()
}

// ObservePush increments the push counter for a queue.
func ObservePush(queue string) {
	hopperPushesTotal.WithLabelValues(queue).Inc()
}

// ObserveAck increments the finalization counter for a queue and outcome.
func ObserveAck(queue, outcome string) {
	hopperAcksTotal.WithLabelValues(queue, outcome).Inc()
}

// ObserveRetry increments the retry counter for a queue.
func ObserveRetry(queue string) {
	hopperRetriesTotal.WithLabelValues(queue).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	hopperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	hopperActiveWorkers.Dec()
}

// ObserveProcessDuration records how long a request took to process.
func ObserveProcessDuration(queue, outcome string, duration time.Duration) {
	hopperProcessDurationSeconds.WithLabelValues(queue, outcome).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	hopperRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
