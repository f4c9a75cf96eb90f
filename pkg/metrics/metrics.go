package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TokensIssued counts issued tokens by kind (access|refresh).
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passq_tokens_issued_total",
			Help: "Total number of tokens issued",
		},
		[]string{"kind"},
	)

	// TokensRevoked counts revocation entries by reason.
	TokensRevoked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passq_tokens_revoked_total",
			Help: "Total number of tokens revoked",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks active sessions (not expired/revoked).
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "passq_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionEvictions counts sessions evicted by limit enforcement.
	SessionEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passq_session_evictions_total",
			Help: "Sessions evicted by concurrency or device limits",
		},
		[]string{"reason"},
	)

	// SecurityEvents counts recorded security events by type and severity.
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passq_security_events_total",
			Help: "Security events recorded",
		},
		[]string{"type", "severity"},
	)

	// RiskScores observes computed per-request risk scores.
	RiskScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passq_risk_score",
			Help:    "Distribution of computed session risk scores",
			Buckets: []float64{0, 10, 20, 40, 60, 80, 100},
		},
	)

	// AuditFailures counts audit append failures (fail-closed aborts).
	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passq_audit_failures_total",
			Help: "Audit log append failures",
		},
	)
)
