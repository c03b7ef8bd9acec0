package authstate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateIdentity is returned when registration collides with an existing email or phone.
	ErrDuplicateIdentity = errors.New("identity already registered")
	// ErrInvalidCredentials is the generic login failure; it never distinguishes
	// an unknown identity from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for inactive or blocked accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountNotFound is returned by AccountStore lookups that miss.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoPendingSecret is returned when verification is attempted and no code
	// is pending for the account and purpose. Unknown identities produce the
	// same error, so the caller cannot enumerate accounts through it.
	ErrNoPendingSecret = errors.New("no pending code")
	// ErrCodeExpired is returned when the pending code's TTL has elapsed; the slot is cleared.
	ErrCodeExpired = errors.New("code expired")
	// ErrAttemptsExhausted is returned when the attempt budget is spent; the slot is cleared.
	ErrAttemptsExhausted = errors.New("code attempts exhausted")
	// ErrInvalidCode is returned on a code mismatch with budget remaining.
	ErrInvalidCode = errors.New("invalid code")
	// ErrTooManyRequests is returned when a code is re-requested inside the
	// cooldown window. It is wrapped in a *RetryAfterError carrying the wait.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrDeliveryFailed is returned when the email/SMS dispatcher reports failure.
	// The pending code has been rolled back by the time callers see it.
	ErrDeliveryFailed = errors.New("code delivery failed")

	// ErrInvalidTwoFactorToken covers a bad TOTP code, a bad backup code, and
	// an unknown, expired, or exhausted login challenge.
	ErrInvalidTwoFactorToken = errors.New("invalid two-factor token")
	// ErrTwoFactorAlreadyEnabled is returned when setup is requested while 2FA is active.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotEnabled is returned by disable/regenerate when 2FA is off.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorNotPending is returned by setup confirmation when no pending secret exists.
	ErrTwoFactorNotPending = errors.New("two-factor setup not pending")
	// ErrTwoFactorRateLimited is returned when TOTP verification is throttled.
	ErrTwoFactorRateLimited = errors.New("two-factor verification rate limited")

	// ErrTokenInvalid is returned for malformed, mis-signed, or revoked session tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired is returned for well-formed session tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrResetTokenInvalid is returned for unknown, expired, or already-used reset tokens.
	ErrResetTokenInvalid = errors.New("reset token invalid")

	// ErrPasswordPolicy is returned when a new password fails the minimum policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidIdentity is returned when a registration email is not plausibly an address.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrUnknownProvider is returned for an OAuth provider the engine was not configured with.
	ErrUnknownProvider = errors.New("unknown oauth provider")
	// ErrEngineNotReady is returned when a required dependency was not wired at build time.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrStoreUnavailable wraps backend failures (Redis, AccountStore). It is
	// the only error class that maps to a 5xx at the HTTP boundary.
	ErrStoreUnavailable = errors.New("backend unavailable")
)

// RetryAfterError decorates a sentinel error with the wait until the
// operation may be retried. It wraps ErrTooManyRequests for code-issue
// cooldowns and ErrAccountLocked for active lockouts, so
// errors.Is(err, ErrTooManyRequests) keeps working.
type RetryAfterError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("%v: retry after %s", e.Err, e.RetryAfter.Round(time.Second))
}

func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfterSeconds extracts the retry hint from an error chain, rounded up
// to whole seconds for transport envelopes. Returns 0 when absent.
func RetryAfterSeconds(err error) int {
	var ra *RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter <= 0 {
		return 0
	}
	secs := int((ra.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func retryAfter(sentinel error, wait time.Duration) error {
	return &RetryAfterError{Err: sentinel, RetryAfter: wait}
}

func storeFailure(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
