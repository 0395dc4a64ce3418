package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registerhub_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registerhub_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registerhub_session_operations_total",
		Help: "Session coordinator operations by operation and result",
	}, []string{"op", "result"})

	claimRacesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registerhub_claim_races_lost_total",
		Help: "Claims rejected by the conditional write after the pre-check saw a free register",
	})

	claimInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registerhub_claim_inconsistencies_total",
		Help: "Releases that found the register claim pointing at another session",
	})

	staleClaims = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registerhub_stale_claims",
		Help: "Claims older than the configured threshold at the last monitor run",
	})

	presenceWatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registerhub_presence_watchers",
		Help: "Open presence watch streams",
	})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "registerhub_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	rateLimitDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registerhub_rate_limit_degraded_total",
		Help: "Requests let through because the shared rate limiter was unavailable",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveSessionOp counts one coordinator call. result is "ok" or an error code.
func ObserveSessionOp(op, result string) {
	sessionOps.WithLabelValues(op, result).Inc()
}

func IncClaimRaceLost() { claimRacesLost.Inc() }

func IncClaimInconsistency() { claimInconsistencies.Inc() }

func SetStaleClaims(n int) { staleClaims.Set(float64(n)) }

func IncPresenceWatchers() { presenceWatchers.Inc() }

func DecPresenceWatchers() { presenceWatchers.Dec() }

// SetBreakerState publishes the numeric value of a breaker state.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

func IncRateLimitDegraded() { rateLimitDegraded.Inc() }
