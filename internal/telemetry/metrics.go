// Package telemetry exposes Prometheus collectors for deployctl.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deploysTotal              *prometheus.CounterVec
	deployDurationSeconds     *prometheus.HistogramVec
	rollbacksTotal            *prometheus.CounterVec
	healthCheckAttemptsTotal  *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. It is safe to call more
// than once.
func Init() {
	once.Do(func() {
		deploysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployctl_deploys_total",
				Help: "Total number of deployments, labeled by environment and outcome.",
			},
			[]string{"environment", "status"},
		)

		deployDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deployctl_deploy_duration_seconds",
				Help:    "Wall-clock duration of deployments.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"environment"},
		)

		rollbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployctl_rollbacks_total",
				Help: "Total number of rollback attempts, labeled by environment.",
			},
			[]string{"environment"},
		)

		healthCheckAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployctl_health_check_attempts_total",
				Help: "Total health probe attempts, labeled by environment.",
			},
			[]string{"environment"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deployctl_http_requests_total",
				Help: "Total HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deployctl_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// ObserveDeploy records one finished deployment.
func ObserveDeploy(environment, status string, duration time.Duration) {
	if deploysTotal == nil {
		return
	}
	deploysTotal.WithLabelValues(environment, status).Inc()
	deployDurationSeconds.WithLabelValues(environment).Observe(duration.Seconds())
}

// ObserveRollback records one rollback attempt.
func ObserveRollback(environment string) {
	if rollbacksTotal == nil {
		return
	}
	rollbacksTotal.WithLabelValues(environment).Inc()
}

// ObserveHealthCheckAttempts adds the number of probes a deploy needed.
func ObserveHealthCheckAttempts(environment string, attempts int) {
	if healthCheckAttemptsTotal == nil {
		return
	}
	healthCheckAttemptsTotal.WithLabelValues(environment).Add(float64(attempts))
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
