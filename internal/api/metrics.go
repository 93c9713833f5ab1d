package api

import "github.com/prometheus/client_golang/prometheus"

// Reasons recorded on askozzy_auth_rejections_total.
const (
	rejectMissingToken    = "missing_token"
	rejectInvalidToken    = "invalid_token"
	rejectSessionRevoked  = "session_revoked"
	rejectSessionMismatch = "session_mismatch"
	rejectInvalidSession  = "invalid_session"
	rejectSessionStore    = "session_store_error"
	rejectAlreadyBound    = "already_bound"
	rejectBadBootstrap    = "bad_bootstrap_secret"
	rejectBadSignature    = "bad_webhook_signature"
)

type metrics struct {
	authRejections *prometheus.CounterVec
	throttled      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askozzy",
			Name:      "auth_rejections_total",
			Help:      "Requests rejected before reaching a handler, by reason.",
		}, []string{"reason"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "askozzy",
			Name:      "rate_limited_total",
			Help:      "Requests refused by the per-IP rate limiter, by route group.",
		}, []string{"group"}),
	}
	reg.MustRegister(m.authRejections, m.throttled)
	return m
}

func (m *metrics) reject(reason string) {
	m.authRejections.WithLabelValues(reason).Inc()
}

func (m *metrics) throttle(group string) {
	m.throttled.WithLabelValues(group).Inc()
}
