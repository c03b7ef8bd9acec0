package authstate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tmachard/authstate/internal"
	"github.com/tmachard/authstate/internal/limiters"
	"github.com/tmachard/authstate/internal/stores"
	"github.com/tmachard/authstate/jwt"
	"github.com/tmachard/authstate/oauth"
	"github.com/tmachard/authstate/password"
	"github.com/tmachard/authstate/session"
)

// Engine executes the authentication state machine. Construct through
// [Builder.Build]; all methods are safe for concurrent use afterwards.
type Engine struct {
	config   Config
	accounts AccountStore
	delivery DeliveryDispatcher
	oauth    *oauth.Client

	hasher     *password.Hasher
	tokens     *jwt.Manager
	sessions   *session.Store
	slots      *stores.SecretSlotStore
	resets     *stores.ResetTokenStore
	challenges *stores.LoginChallengeStore
	lockout    *limiters.Lockout
	cooldown   *limiters.Cooldown
	totpGuard  *limiters.TOTP

	audit   *auditDispatcher
	metrics *metricSet

	// decoyHash is verified against when the identity is unknown, so the
	// miss path costs the same as a wrong password.
	decoyHash string

	now func() time.Time
}

// Close releases the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Login evaluates a password attempt for the identity (an email address).
//
// Outcomes: generic ErrInvalidCredentials for unknown identity, wrong
// password, and passwordless accounts; ErrAccountLocked (with retry-after)
// while a lockout window is active; ErrAccountDisabled for inactive or
// blocked accounts. On a correct password with 2FA enabled, the result
// carries TwoFactorRequired and a ChallengeID, no session is issued, and
// the failure counter is deliberately left alone until the second factor
// completes. Otherwise the result carries a signed session token.
func (e *Engine) Login(ctx context.Context, identity, plaintext string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.FindByEmail(ctx, normalizeEmail(identity))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn a hash verification so the miss is not observable by timing.
			_, _ = e.hasher.Verify(e.decoyHash, plaintext)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(auditEventLoginFailure, false, "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, storeFailure(err)
	}

	locked, remaining, err := e.lockout.Status(ctx, account.ID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(auditEventLoginLocked, false, account.ID, ErrAccountLocked, nil)
		return nil, retryAfter(ErrAccountLocked, remaining)
	}

	if !account.Active || account.Blocked {
		e.emitAudit(auditEventLoginFailure, false, account.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	if !account.HasPassword() {
		// OAuth-only account: count it like a wrong password so the probe
		// cannot distinguish the two.
		return nil, e.recordPasswordFailure(ctx, account.ID)
	}

	ok, err := e.hasher.Verify(account.PasswordHash, plaintext)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !ok {
		return nil, e.recordPasswordFailure(ctx, account.ID)
	}

	if account.TwoFactor.Enabled {
		return e.deferToTwoFactor(ctx, account.ID, nil)
	}

	return e.finishLogin(ctx, account.ID, auditEventLoginSuccess, MetricLoginSuccess)
}

// LockoutStatus reports whether login is currently blocked for the account
// and the remaining lock time.
func (e *Engine) LockoutStatus(ctx context.Context, accountID string) (bool, time.Duration, error) {
	if e == nil || e.lockout == nil {
		return false, 0, ErrEngineNotReady
	}
	locked, remaining, err := e.lockout.Status(ctx, accountID)
	if err != nil {
		return false, 0, storeFailure(err)
	}
	return locked, remaining, nil
}

func (e *Engine) recordPasswordFailure(ctx context.Context, accountID string) error {
	tripped, err := e.lockout.RecordFailure(ctx, accountID)
	if err != nil {
		return storeFailure(err)
	}
	e.metricInc(MetricLoginFailure)
	if tripped {
		e.metricInc(MetricLockoutTripped)
		e.emitAudit(auditEventLockoutTripped, false, accountID, ErrAccountLocked, nil)
	} else {
		e.emitAudit(auditEventLoginFailure, false, accountID, ErrInvalidCredentials, nil)
	}
	return ErrInvalidCredentials
}

// finishLogin is the single place a session comes into existence: lockout
// state cleared, login stamped, session saved, token signed.
func (e *Engine) finishLogin(ctx context.Context, accountID, event string, metric MetricID) (*LoginResult, error) {
	if err := e.lockout.Reset(ctx, accountID); err != nil {
		return nil, storeFailure(err)
	}

	now := e.now()
	if err := e.accounts.TouchLogin(ctx, accountID, now); err != nil {
		return nil, storeFailure(err)
	}

	sessionID, err := internal.SessionID()
	if err != nil {
		return nil, storeFailure(err)
	}

	token, expiresAt, err := e.tokens.Issue(accountID, sessionID, now)
	if err != nil {
		return nil, storeFailure(err)
	}

	if err := e.sessions.Save(ctx, &session.Session{
		SessionID: sessionID,
		AccountID: accountID,
		CreatedAt: now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}); err != nil {
		return nil, storeFailure(err)
	}

	e.metricInc(metric)
	e.metricInc(MetricSessionIssued)
	e.emitAudit(event, true, accountID, nil, map[string]string{"session_id": sessionID})

	return &LoginResult{
		AccountID: accountID,
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
	}, nil
}

func (e *Engine) emitAudit(event string, success bool, accountID string, cause error, meta map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp: e.now(),
		EventType: event,
		AccountID: accountID,
		Success:   success,
		Metadata:  meta,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.audit.Emit(ev)
}

// findByIdentity resolves an email identity without leaking existence:
// callers on enumeration-sensitive paths must map ErrAccountNotFound to
// the same outcome as a failed credential.
func (e *Engine) findByIdentity(ctx context.Context, identity string) (Account, error) {
	account, err := e.accounts.FindByEmail(ctx, normalizeEmail(identity))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storeFailure(err)
	}
	return account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
