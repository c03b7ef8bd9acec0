package authstate

import (
	"context"
	"errors"

	"github.com/tmachard/authstate/internal"
)

// RegenerateBackupCodes invalidates every outstanding backup code and
// returns a fresh plaintext set. Same dual proof as DisableTwoFactor:
// current password plus a valid TOTP code, never a backup code. The swap
// is a single ReplaceBackupCodes call, so there is no window where old
// and new codes are both live.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, plaintext, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.requireDualProof(ctx, accountID, plaintext, code)
	if err != nil {
		return nil, err
	}

	codes, err := e.mintBackupCodes(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	e.emitAudit(auditEventBackupCodesRotated, true, account.ID, nil, nil)
	return codes, nil
}

// consumeBackupCode burns one unused backup code. The AccountStore
// performs the mark-used atomically, so two racing presenters of the
// same code cannot both succeed.
func (e *Engine) consumeBackupCode(ctx context.Context, accountID, presented string) error {
	canonical := internal.CanonicalizeBackupCode(presented)
	if canonical == "" {
		return ErrInvalidTwoFactorToken
	}

	used, err := e.accounts.ConsumeBackupCode(ctx, accountID, internal.HashBackupCode(accountID, canonical))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidTwoFactorToken
		}
		return storeFailure(err)
	}
	if !used {
		return ErrInvalidTwoFactorToken
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(auditEventBackupCodeUsed, true, accountID, nil, nil)
	return nil
}
