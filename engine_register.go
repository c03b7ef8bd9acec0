package authstate

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// Register creates an account and immediately issues its email-verify
// code. Issuing at registration time is the one supported path; there is
// no registered-but-never-offered-a-code state.
//
// A delivery failure does not undo the account: the rolled-back code slot
// means ErrDeliveryFailed is returned and the caller retries through
// RequestEmailVerification. Duplicate email or phone returns
// ErrDuplicateIdentity.
func (e *Engine) Register(ctx context.Context, email, phone, plaintext string) (*Account, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if !plausibleEmail(email) {
		return nil, ErrInvalidIdentity
	}
	if len(plaintext) < minPasswordLength {
		return nil, ErrPasswordPolicy
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, storeFailure(err)
	}

	account, err := e.accounts.Create(ctx, Account{
		ID:           uuid.NewString(),
		Email:        email,
		Phone:        strings.TrimSpace(phone),
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    e.now(),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return nil, ErrDuplicateIdentity
		}
		return nil, storeFailure(err)
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(auditEventRegistration, true, account.ID, nil, nil)

	if err := e.issueCode(ctx, account, PurposeEmailVerify); err != nil {
		return &account, err
	}
	return &account, nil
}

// plausibleEmail is deliberately loose: real validation is the
// verification code, not a regex.
func plausibleEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\n")
}
