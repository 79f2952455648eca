package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	VerificationSuccessTotal prometheus.Counter
	VerificationFailureTotal *prometheus.CounterVec
	RateLimitedTotal         prometheus.Counter
	SessionsCreatedTotal     prometheus.Counter
	SessionsEvictedTotal     prometheus.Counter
	SessionsRevokedTotal     prometheus.Counter
	UsersCreatedTotal        prometheus.Counter
)

// Init initializes and registers the gateway's Prometheus metrics. It
// should be called once at application startup.
func Init(reg prometheus.Registerer) {
	VerificationSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_verifications_success_total",
		Help: "Total number of successful token verifications.",
	})
	VerificationFailureTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_verifications_failure_total",
		Help: "Total number of rejected token verifications by reason.",
	}, []string{"reason"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_rate_limited_total",
		Help: "Total number of verification attempts denied by the rate limiter.",
	})
	SessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_sessions_created_total",
		Help: "Total number of sessions created.",
	})
	SessionsEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_sessions_evicted_total",
		Help: "Total number of sessions evicted by the per-user ceiling.",
	})
	SessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_sessions_revoked_total",
		Help: "Total number of sessions revoked by logout or revocation.",
	})
	UsersCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authgate_users_created_total",
		Help: "Total number of user profiles created on first verification.",
	})

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, metrics not registered")
		return
	}
	collectors := []prometheus.Collector{
		VerificationSuccessTotal,
		VerificationFailureTotal,
		RateLimitedTotal,
		SessionsCreatedTotal,
		SessionsEvictedTotal,
		SessionsRevokedTotal,
		UsersCreatedTotal,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}

// Inc increments a counter, tolerating an uninitialized metrics package so
// library consumers and tests need not call Init.
func Inc(counter prometheus.Counter) {
	if counter != nil {
		counter.Inc()
	}
}

// IncFailure increments the failure counter for the given reason.
func IncFailure(reason string) {
	if VerificationFailureTotal != nil {
		VerificationFailureTotal.WithLabelValues(reason).Inc()
	}
}
