package authstate

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed single-factor logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts wrong-password and unknown-identity attempts.
	MetricLoginFailure
	// MetricLoginLocked counts attempts rejected by an active lockout.
	MetricLoginLocked
	// MetricLockoutTripped counts lockouts set by the failure threshold.
	MetricLockoutTripped
	// MetricTwoFactorRequired counts logins parked on a 2FA challenge.
	MetricTwoFactorRequired
	// MetricTwoFactorSuccess counts completed 2FA rounds.
	MetricTwoFactorSuccess
	// MetricTwoFactorFailure counts failed 2FA rounds.
	MetricTwoFactorFailure
	// MetricBackupCodeUsed counts logins completed by a backup code.
	MetricBackupCodeUsed
	// MetricCodeIssued counts one-time codes issued and delivered.
	MetricCodeIssued
	// MetricCodeConsumed counts one-time codes verified successfully.
	MetricCodeConsumed
	// MetricCodeFailed counts mismatches, expiries, and exhaustions.
	MetricCodeFailed
	// MetricCodeCooldownHit counts issues rejected by the resend cooldown.
	MetricCodeCooldownHit
	// MetricDeliveryFailure counts dispatcher failures with rollback.
	MetricDeliveryFailure
	// MetricSessionIssued counts sessions created.
	MetricSessionIssued
	// MetricSessionRevoked counts sessions removed by logout or revocation.
	MetricSessionRevoked
	// MetricPasswordReset counts completed password resets.
	MetricPasswordReset
	// MetricOAuthLogin counts logins completed through an OAuth provider.
	MetricOAuthLogin
	// MetricRegistration counts accounts created by Register.
	MetricRegistration

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:      "login_success",
	MetricLoginFailure:      "login_failure",
	MetricLoginLocked:       "login_locked",
	MetricLockoutTripped:    "lockout_tripped",
	MetricTwoFactorRequired: "two_factor_required",
	MetricTwoFactorSuccess:  "two_factor_success",
	MetricTwoFactorFailure:  "two_factor_failure",
	MetricBackupCodeUsed:    "backup_code_used",
	MetricCodeIssued:        "code_issued",
	MetricCodeConsumed:      "code_consumed",
	MetricCodeFailed:        "code_failed",
	MetricCodeCooldownHit:   "code_cooldown_hit",
	MetricDeliveryFailure:   "delivery_failure",
	MetricSessionIssued:     "session_issued",
	MetricSessionRevoked:    "session_revoked",
	MetricPasswordReset:     "password_reset",
	MetricOAuthLogin:        "oauth_login",
	MetricRegistration:      "registration",
}

// Name returns the stable exposition name of the metric.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

type metricSet struct {
	counters [metricIDCount]atomic.Uint64
}

func (m *metricSet) inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of every engine counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// MetricsSnapshot returns current counter values. Safe under concurrent
// engine use; values are independently loaded, not a consistent cut.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	if e == nil || e.metrics == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = e.metrics.counters[id].Load()
	}
	return snap
}

// AuditDropped reports audit events lost to dispatcher backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.inc(id)
}
