package authstate

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	auditEventRegistration        = "registration"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginLocked         = "login_locked"
	auditEventLockoutTripped      = "lockout_tripped"
	auditEventCodeIssued          = "code_issued"
	auditEventCodeConsumed        = "code_consumed"
	auditEventCodeFailed          = "code_failed"
	auditEventCodeCancelled       = "code_cancelled"
	auditEventCodeCooldown        = "code_cooldown"
	auditEventDeliveryFailure     = "delivery_failure"
	auditEventTwoFactorRequired   = "two_factor_required"
	auditEventTwoFactorSuccess    = "two_factor_success"
	auditEventTwoFactorFailure    = "two_factor_failure"
	auditEventTwoFactorSetup      = "two_factor_setup_requested"
	auditEventTwoFactorEnabled    = "two_factor_enabled"
	auditEventTwoFactorDisabled   = "two_factor_disabled"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventBackupCodesRotated  = "backup_codes_rotated"
	auditEventPasswordChanged     = "password_changed"
	auditEventPasswordResetStart  = "password_reset_requested"
	auditEventPasswordResetDone   = "password_reset_completed"
	auditEventOAuthLogin          = "oauth_login"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventAccountDeleted      = "account_deleted"
	auditEventEmailVerified       = "email_verified"
	auditEventPhoneVerified       = "phone_verified"
	auditEventSessionRejected     = "session_rejected"
)

// auditDispatcher forwards events to the configured sink on a dedicated
// goroutine. Emit never blocks a request path: when the buffer is full the
// event is dropped and counted. A nil *auditDispatcher is inert.
type auditDispatcher struct {
	sink      AuditSink
	ch        chan AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	buffer := cfg.BufferSize
	if buffer < 1 {
		buffer = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink: sink,
		ch:   make(chan AuditEvent, buffer),
		done: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			// Drain what was accepted before close.
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) Emit(event AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- event:
	default:
		d.dropped.Add(1)
	}
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
