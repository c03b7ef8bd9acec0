package authstate

import (
	"context"
	"errors"
	"time"

	"github.com/tmachard/authstate/jwt"
	"github.com/tmachard/authstate/session"
)

// Validate authenticates a session token. The signature check alone is
// not enough: the token's session record must still exist in Redis, so a
// logout, a logout-all, or a password reset revokes every token bound to
// the removed sessions immediately, with no blocklist.
func (e *Engine) Validate(ctx context.Context, token string) (*Identity, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	sess, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.emitAudit(auditEventSessionRejected, false, claims.AccountID, ErrTokenInvalid,
				map[string]string{"session_id": claims.SessionID})
			return nil, ErrTokenInvalid
		}
		return nil, storeFailure(err)
	}
	if sess.AccountID != claims.AccountID {
		e.emitAudit(auditEventSessionRejected, false, claims.AccountID, ErrTokenInvalid,
			map[string]string{"session_id": claims.SessionID})
		return nil, ErrTokenInvalid
	}

	// Activity stamping is best-effort; a store hiccup here must not fail
	// an otherwise valid request.
	_ = e.accounts.TouchActive(ctx, claims.AccountID, e.now())

	return &Identity{
		AccountID: claims.AccountID,
		SessionID: claims.SessionID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// Logout revokes the token's session. Invalid and already-revoked tokens
// return ErrTokenInvalid; there is nothing left to revoke for them.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}

	if err := e.sessions.Delete(ctx, claims.SessionID); err != nil {
		return storeFailure(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(auditEventLogout, true, claims.AccountID, nil,
		map[string]string{"session_id": claims.SessionID})
	return nil
}

// LogoutAll revokes every live session for the account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.revokeAllSessions(ctx, accountID); err != nil {
		return err
	}
	e.emitAudit(auditEventLogoutAll, true, accountID, nil, nil)
	return nil
}

// ChangePassword swaps the password for an authenticated account. The
// current password is required even mid-session: a stolen token must not
// be enough to take the account over. Every session is revoked after the
// swap, the caller's included; the caller logs back in with the new
// password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return storeFailure(err)
	}
	if !account.HasPassword() {
		return ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(account.PasswordHash, current)
	if err != nil {
		return storeFailure(err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if len(next) < minPasswordLength {
		return ErrPasswordPolicy
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return storeFailure(err)
	}
	if err := e.accounts.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return storeFailure(err)
	}

	if err := e.revokeAllSessions(ctx, account.ID); err != nil {
		return err
	}

	e.emitAudit(auditEventPasswordChanged, true, account.ID, nil, nil)
	return nil
}

// DeleteAccount removes the account after a password check, revoking its
// sessions and clearing its rate-limit state. OAuth-only accounts pass an
// empty password; there is no credential to re-prove.
func (e *Engine) DeleteAccount(ctx context.Context, accountID, plaintext string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return storeFailure(err)
	}

	if account.HasPassword() {
		ok, err := e.hasher.Verify(account.PasswordHash, plaintext)
		if err != nil {
			return storeFailure(err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
	}

	if err := e.revokeAllSessions(ctx, account.ID); err != nil {
		return err
	}
	_, _ = e.slots.Cancel(ctx, account.ID)
	_ = e.lockout.Reset(ctx, account.ID)
	_ = e.totpGuard.Reset(ctx, account.ID)

	if err := e.accounts.Delete(ctx, account.ID); err != nil {
		return storeFailure(err)
	}

	e.emitAudit(auditEventAccountDeleted, true, account.ID, nil, nil)
	return nil
}

// ActiveSessions lists the account's live session IDs.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]string, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	ids, err := e.sessions.ActiveSessionIDs(ctx, accountID)
	if err != nil {
		return nil, storeFailure(err)
	}
	return ids, nil
}

func (e *Engine) revokeAllSessions(ctx context.Context, accountID string) error {
	if err := e.sessions.DeleteAllForAccount(ctx, accountID); err != nil {
		return storeFailure(err)
	}
	e.metricInc(MetricSessionRevoked)
	return nil
}
