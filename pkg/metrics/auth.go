package metrics

import "github.com/prometheus/client_golang/prometheus"

// Login outcomes.
const (
	LoginSuccess         = "success"
	LoginInvalid         = "invalid_credentials"
	LoginLocked          = "locked"
	LoginDisabled        = "disabled"
	LoginTenantSuspended = "tenant_suspended"
	LoginSyncIntegrity   = "sync_integrity"
	LoginError           = "error"
)

// AuthMetrics counts login and request authentication outcomes.
type AuthMetrics struct {
	logins   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// NewAuthMetrics registers the auth collectors on the provided registerer.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	if reg == nil {
		return &AuthMetrics{}
	}
	m := &AuthMetrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by outcome and login mode.",
		}, []string{"outcome", "mode"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_requests_rejected_total",
			Help: "Authenticated requests rejected, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.logins, m.rejected)
	return m
}

// Login records one login attempt.
func (m *AuthMetrics) Login(outcome, mode string) {
	if m == nil || m.logins == nil {
		return
	}
	m.logins.WithLabelValues(normalizeLabel(outcome), normalizeLabel(mode)).Inc()
}

// Rejected records a request that failed authentication.
func (m *AuthMetrics) Rejected(reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(reason)).Inc()
}
