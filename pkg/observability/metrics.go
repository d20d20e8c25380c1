// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring authentication.
package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthBuckets defines histogram buckets for request latencies behind the
// auth guard, ranging from 1ms to 10s. Digest and bcrypt checks plus a
// remote session store dominate the low end.
var AuthBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpauth_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpauth_request_duration_seconds",
			Help:    "Request duration",
			Buckets: AuthBuckets,
		},
		[]string{"method"},
	)

	// DecisionsTotal counts authentication decisions by scheme and outcome
	// (authenticated, rejected, missing, forbidden).
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpauth_decisions_total",
			Help: "Authentication decisions",
		},
		[]string{"scheme", "outcome"},
	)

	// ChallengesTotal counts WWW-Authenticate challenges issued per scheme.
	ChallengesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpauth_challenges_total",
			Help: "Challenges issued",
		},
		[]string{"scheme"},
	)

	// SessionOperationsTotal counts session store operations by backend,
	// operation and result.
	SessionOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpauth_session_operations_total",
			Help: "Session store operations",
		},
		[]string{"backend", "op", "result"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpauth_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DecisionsTotal,
		ChallengesTotal,
		SessionOperationsTotal,
		RateLimitRejectedTotal,
	)
}

// ObserveSession records the result of a session store operation.
func ObserveSession(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SessionOperationsTotal.WithLabelValues(backend, op, result).Inc()
}
