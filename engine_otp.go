package authstate

import (
	"context"
	"errors"
	"time"

	"github.com/tmachard/authstate/internal"
	"github.com/tmachard/authstate/internal/limiters"
	"github.com/tmachard/authstate/internal/stores"
)

// enumerationDelay pads the fast path taken for unknown identities so it
// is not separable from the real-work path by response timing.
const enumerationDelay = 45 * time.Millisecond

// RequestEmailVerification issues a fresh email-verify code and delivers
// it to the account's address. Unknown identities and already-verified
// accounts return nil after a fixed delay, so the call leaks nothing.
func (e *Engine) RequestEmailVerification(ctx context.Context, identity string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			time.Sleep(enumerationDelay)
			return nil
		}
		return err
	}
	if account.EmailVerified {
		time.Sleep(enumerationDelay)
		return nil
	}

	return e.issueCode(ctx, account, PurposeEmailVerify)
}

// ConfirmEmailVerification verifies a presented email-verify code and
// marks the address verified. The slot is consumed on success and on
// exhaustion; a mismatch inside the budget only burns an attempt.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, identity, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrNoPendingSecret
		}
		return err
	}

	if err := e.consumeCode(ctx, account.ID, PurposeEmailVerify, code); err != nil {
		return err
	}

	if err := e.accounts.MarkEmailVerified(ctx, account.ID); err != nil {
		return storeFailure(err)
	}
	e.emitAudit(auditEventEmailVerified, true, account.ID, nil, nil)
	return nil
}

// RequestPhoneVerification issues an sms-verify code to the account's
// phone. Accounts without a phone, unknown identities, and verified
// phones all return nil after the fixed delay.
func (e *Engine) RequestPhoneVerification(ctx context.Context, identity string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			time.Sleep(enumerationDelay)
			return nil
		}
		return err
	}
	if account.Phone == "" || account.PhoneVerified {
		time.Sleep(enumerationDelay)
		return nil
	}

	return e.issueCode(ctx, account, PurposeSMSVerify)
}

// ConfirmPhoneVerification verifies an sms-verify code and marks the
// phone verified.
func (e *Engine) ConfirmPhoneVerification(ctx context.Context, identity, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrNoPendingSecret
		}
		return err
	}

	if err := e.consumeCode(ctx, account.ID, PurposeSMSVerify, code); err != nil {
		return err
	}

	if err := e.accounts.MarkPhoneVerified(ctx, account.ID); err != nil {
		return storeFailure(err)
	}
	e.emitAudit(auditEventPhoneVerified, true, account.ID, nil, nil)
	return nil
}

// RequestLoginCode issues a login code to the account's email, enabling a
// passwordless round trip through LoginWithCode.
func (e *Engine) RequestLoginCode(ctx context.Context, identity string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			time.Sleep(enumerationDelay)
			return nil
		}
		return err
	}
	if !account.Active || account.Blocked {
		time.Sleep(enumerationDelay)
		return nil
	}

	return e.issueCode(ctx, account, PurposeLogin)
}

// LoginWithCode completes a code-based login. Lockout and disabled checks
// match password login, and so does the 2FA gate: the emailed code is a
// first factor like a password, so an enabled account gets a challenge
// instead of a session. A clean single-factor success clears lockout state
// and issues the session.
func (e *Engine) LoginWithCode(ctx context.Context, identity, code string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrNoPendingSecret
		}
		return nil, err
	}

	locked, remaining, err := e.lockout.Status(ctx, account.ID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		return nil, retryAfter(ErrAccountLocked, remaining)
	}
	if !account.Active || account.Blocked {
		return nil, ErrAccountDisabled
	}

	if err := e.consumeCode(ctx, account.ID, PurposeLogin, code); err != nil {
		return nil, err
	}

	if account.TwoFactor.Enabled {
		return e.deferToTwoFactor(ctx, account.ID,
			map[string]string{"method": "login_code"})
	}

	return e.finishLogin(ctx, account.ID, auditEventLoginSuccess, MetricLoginSuccess)
}

// ResendCode re-issues the pending code's purpose, subject to the same
// cooldown as the original issue. The previous code stops being valid the
// moment the new one is saved.
func (e *Engine) ResendCode(ctx context.Context, identity string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrNoPendingSecret
		}
		return err
	}

	record, err := e.slots.Peek(ctx, account.ID)
	if err != nil {
		if errors.Is(err, stores.ErrSlotEmpty) {
			return ErrNoPendingSecret
		}
		return storeFailure(err)
	}

	return e.issueCode(ctx, account, SecretPurpose(record.Purpose))
}

// CancelCode clears the pending code, if any.
func (e *Engine) CancelCode(ctx context.Context, identity string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrNoPendingSecret
		}
		return err
	}

	existed, err := e.slots.Cancel(ctx, account.ID)
	if err != nil {
		return storeFailure(err)
	}
	if !existed {
		return ErrNoPendingSecret
	}
	e.emitAudit(auditEventCodeCancelled, true, account.ID, nil, nil)
	return nil
}

// CodeStatus reports the pending code's purpose, remaining lifetime, and
// remaining attempts. It never reveals the code.
func (e *Engine) CodeStatus(ctx context.Context, identity string) (*CodeStatus, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return &CodeStatus{}, nil
		}
		return nil, err
	}

	record, err := e.slots.Peek(ctx, account.ID)
	if err != nil {
		if errors.Is(err, stores.ErrSlotEmpty) {
			return &CodeStatus{}, nil
		}
		return nil, storeFailure(err)
	}

	purpose := SecretPurpose(record.Purpose)
	_, maxAttempts := e.config.OTP.budget(purpose)
	left := maxAttempts - int(record.Attempts)
	if left < 0 {
		left = 0
	}

	return &CodeStatus{
		Pending:      true,
		Purpose:      purpose,
		ExpiresIn:    time.Unix(record.ExpiresAt, 0).Sub(e.now()),
		AttemptsLeft: left,
	}, nil
}

// issueCode generates, binds, and delivers a one-time code. Ordering per
// the delivery contract: the slot is written before the send, and a failed
// send rolls the slot and the cooldown claim back, so no code is ever live
// without having reached the transport.
func (e *Engine) issueCode(ctx context.Context, account Account, purpose SecretPurpose) error {
	if e.delivery == nil {
		return ErrEngineNotReady
	}
	if !purpose.valid() {
		return ErrNoPendingSecret
	}

	wait, err := e.cooldown.Reserve(ctx, account.ID, uint8(purpose))
	if err != nil {
		if errors.Is(err, limiters.ErrCoolingDown) {
			e.metricInc(MetricCodeCooldownHit)
			e.emitAudit(auditEventCodeCooldown, false, account.ID, ErrTooManyRequests, nil)
			return retryAfter(ErrTooManyRequests, wait)
		}
		return storeFailure(err)
	}

	code, err := internal.NumericCode(e.config.OTP.Digits)
	if err != nil {
		return storeFailure(err)
	}

	ttl, _ := e.config.OTP.budget(purpose)
	record := &stores.SlotRecord{
		Purpose:   uint8(purpose),
		ExpiresAt: e.now().Add(ttl).Unix(),
		CodeHash:  internal.HashSecret(code),
	}
	if err := e.slots.Save(ctx, account.ID, record, ttl); err != nil {
		return storeFailure(err)
	}

	switch purpose {
	case PurposeSMSVerify:
		err = e.delivery.SendSMSCode(ctx, account.Phone, code, purpose)
	default:
		err = e.delivery.SendEmailCode(ctx, account.Email, code, purpose)
	}
	if err != nil {
		// Roll back before surfacing: the slot must not stay live for a
		// code the user never received, and the cooldown must not punish
		// an immediate retry.
		_, _ = e.slots.Cancel(ctx, account.ID)
		_ = e.cooldown.Release(ctx, account.ID, uint8(purpose))
		e.metricInc(MetricDeliveryFailure)
		e.emitAudit(auditEventDeliveryFailure, false, account.ID, ErrDeliveryFailed,
			map[string]string{"purpose": purpose.String()})
		return ErrDeliveryFailed
	}

	e.metricInc(MetricCodeIssued)
	e.emitAudit(auditEventCodeIssued, true, account.ID, nil,
		map[string]string{"purpose": purpose.String()})
	return nil
}

// consumeCode verifies a presented code against the slot and maps store
// outcomes onto the public taxonomy.
func (e *Engine) consumeCode(ctx context.Context, accountID string, purpose SecretPurpose, code string) error {
	_, maxAttempts := e.config.OTP.budget(purpose)

	_, err := e.slots.Consume(ctx, accountID, uint8(purpose), internal.HashSecret(code), maxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrSlotEmpty), errors.Is(err, stores.ErrSlotPurposeMismatch):
			e.metricInc(MetricCodeFailed)
			return ErrNoPendingSecret
		case errors.Is(err, stores.ErrSlotExpired):
			e.metricInc(MetricCodeFailed)
			e.emitAudit(auditEventCodeFailed, false, accountID, ErrCodeExpired, nil)
			return ErrCodeExpired
		case errors.Is(err, stores.ErrSlotExhausted):
			e.metricInc(MetricCodeFailed)
			e.emitAudit(auditEventCodeFailed, false, accountID, ErrAttemptsExhausted, nil)
			return ErrAttemptsExhausted
		case errors.Is(err, stores.ErrSlotMismatch):
			e.metricInc(MetricCodeFailed)
			e.emitAudit(auditEventCodeFailed, false, accountID, ErrInvalidCode, nil)
			return ErrInvalidCode
		default:
			return storeFailure(err)
		}
	}

	e.metricInc(MetricCodeConsumed)
	e.emitAudit(auditEventCodeConsumed, true, accountID, nil,
		map[string]string{"purpose": purpose.String()})
	return nil
}
