package authstate

import (
	"context"
	"errors"
	"time"

	"github.com/tmachard/authstate/internal"
	"github.com/tmachard/authstate/internal/stores"
)

// RequestPasswordReset issues a password-reset code to the identity's
// email. Unknown identities return nil after the fixed delay, same as the
// verification request paths. Disabled accounts are treated as unknown;
// a reset must not become a path around a block.
func (e *Engine) RequestPasswordReset(ctx context.Context, identity string) error {
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
	if !account.Active || account.Blocked || !account.HasPassword() {
		time.Sleep(enumerationDelay)
		return nil
	}

	if err := e.issueCode(ctx, account, PurposePasswordReset); err != nil {
		return err
	}
	e.emitAudit(auditEventPasswordResetStart, true, account.ID, nil, nil)
	return nil
}

// ConfirmPasswordReset exchanges a valid reset code for an opaque
// single-use reset token. The token, not the code, authorizes the actual
// password write, so the code's attempt budget and the new-password
// round trip stay decoupled: a user who verified the code has the full
// token TTL to pick a password without re-requesting.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identity, code string) (string, error) {
	if e == nil || e.accounts == nil {
		return "", ErrEngineNotReady
	}

	account, err := e.findByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrNoPendingSecret
		}
		return "", err
	}

	if err := e.consumeCode(ctx, account.ID, PurposePasswordReset, code); err != nil {
		return "", err
	}

	token, err := internal.OpaqueToken(32)
	if err != nil {
		return "", storeFailure(err)
	}
	if err := e.resets.Save(ctx, internal.HashSecret(token), account.ID, e.config.OTP.ResetTokenTTL); err != nil {
		return "", storeFailure(err)
	}
	return token, nil
}

// CompletePasswordReset redeems a reset token and installs the new
// password. The policy check runs before the redeem, so a rejected
// password does not burn the token. On success every live session for
// the account is revoked and lockout state is cleared.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return ErrResetTokenInvalid
	}
	if len(newPassword) < minPasswordLength {
		return ErrPasswordPolicy
	}

	accountID, err := e.resets.Consume(ctx, internal.HashSecret(token))
	if err != nil {
		if errors.Is(err, stores.ErrResetTokenNotFound) {
			return ErrResetTokenInvalid
		}
		return storeFailure(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return storeFailure(err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetTokenInvalid
		}
		return storeFailure(err)
	}

	if err := e.revokeAllSessions(ctx, accountID); err != nil {
		return err
	}
	if err := e.lockout.Reset(ctx, accountID); err != nil {
		return storeFailure(err)
	}

	e.metricInc(MetricPasswordReset)
	e.emitAudit(auditEventPasswordResetDone, true, accountID, nil, nil)
	return nil
}
