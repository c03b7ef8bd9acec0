package authstate

import (
	"context"
	"errors"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tmachard/authstate/internal"
	"github.com/tmachard/authstate/internal/limiters"
)

// GenerateTwoFactorSetup creates a fresh TOTP secret for the account and
// stores it unattached: 2FA stays off, and login is unaffected, until
// ConfirmTwoFactorSetup proves the authenticator can produce codes.
// Calling it again before confirmation replaces the pending secret.
func (e *Engine) GenerateTwoFactorSetup(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeFailure(err)
	}
	if !account.Active || account.Blocked {
		return nil, ErrAccountDisabled
	}
	if account.TwoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: account.Email,
		Period:      e.config.TOTP.Period,
		Digits:      otp.Digits(e.config.TOTP.Digits),
		Algorithm:   otp.AlgorithmSHA1,
		SecretSize:  e.config.TOTP.SecretSize,
	})
	if err != nil {
		return nil, storeFailure(err)
	}

	if err := e.accounts.SetPendingTOTPSecret(ctx, account.ID, key.Secret()); err != nil {
		return nil, storeFailure(err)
	}

	e.emitAudit(auditEventTwoFactorSetup, true, account.ID, nil, nil)
	return &TwoFactorSetup{
		SecretBase32:    key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// ConfirmTwoFactorSetup verifies a code against the pending secret and,
// on success, enables 2FA and mints the backup-code set. The plaintext
// codes are returned exactly here and never again; losing them means
// regenerating. A wrong code leaves the pending secret in place for
// another attempt.
func (e *Engine) ConfirmTwoFactorSetup(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, storeFailure(err)
	}
	if account.TwoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if account.TwoFactor.Secret == "" {
		return nil, ErrTwoFactorNotPending
	}

	if err := e.verifyTOTPCode(ctx, account.ID, account.TwoFactor.Secret, code); err != nil {
		return nil, err
	}

	if err := e.accounts.EnableTOTP(ctx, account.ID, e.now()); err != nil {
		return nil, storeFailure(err)
	}

	plaintext, err := e.mintBackupCodes(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(auditEventTwoFactorEnabled, true, account.ID, nil, nil)
	return plaintext, nil
}

// DisableTwoFactor turns 2FA off. It demands dual proof: the current
// password and a currently valid TOTP code. A backup code is not accepted
// here; recovery codes complete logins, they do not dismantle the factor.
// Disabling clears the secret and every backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, plaintext, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.requireDualProof(ctx, accountID, plaintext, code)
	if err != nil {
		return err
	}

	if err := e.accounts.DisableTOTP(ctx, account.ID); err != nil {
		return storeFailure(err)
	}
	_ = e.totpGuard.Reset(ctx, account.ID)

	e.emitAudit(auditEventTwoFactorDisabled, true, account.ID, nil, nil)
	return nil
}

// requireDualProof checks password + TOTP for the sensitive 2FA
// management operations.
func (e *Engine) requireDualProof(ctx context.Context, accountID, plaintext, code string) (Account, error) {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, storeFailure(err)
	}
	if !account.TwoFactor.Enabled {
		return Account{}, ErrTwoFactorNotEnabled
	}
	if !account.HasPassword() {
		return Account{}, ErrInvalidCredentials
	}

	ok, err := e.hasher.Verify(account.PasswordHash, plaintext)
	if err != nil {
		return Account{}, storeFailure(err)
	}
	if !ok {
		return Account{}, ErrInvalidCredentials
	}

	if err := e.verifyTOTPCode(ctx, account.ID, account.TwoFactor.Secret, code); err != nil {
		return Account{}, err
	}
	return account, nil
}

// verifyTOTPCode validates one code against a secret inside the
// per-account throttle window. The drift tolerance comes from config:
// Skew steps on each side of the current step.
func (e *Engine) verifyTOTPCode(ctx context.Context, accountID, secret, code string) error {
	if err := e.totpGuard.Check(ctx, accountID); err != nil {
		if errors.Is(err, limiters.ErrTOTPRateLimited) {
			return ErrTwoFactorRateLimited
		}
		return storeFailure(err)
	}
	if code == "" {
		return ErrInvalidTwoFactorToken
	}

	valid, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    e.config.TOTP.Period,
		Skew:      e.config.TOTP.Skew,
		Digits:    otp.Digits(e.config.TOTP.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !valid {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(auditEventTwoFactorFailure, false, accountID, ErrInvalidTwoFactorToken, nil)
		if recErr := e.totpGuard.RecordFailure(ctx, accountID); recErr != nil &&
			errors.Is(recErr, limiters.ErrTOTPRateLimited) {
			return ErrTwoFactorRateLimited
		}
		return ErrInvalidTwoFactorToken
	}

	_ = e.totpGuard.Reset(ctx, accountID)
	return nil
}

// mintBackupCodes replaces the stored set and returns the plaintext.
func (e *Engine) mintBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	plaintext, err := internal.BackupCodes(e.config.TOTP.BackupCodeCount, e.config.TOTP.BackupCodeBytes)
	if err != nil {
		return nil, storeFailure(err)
	}

	records := make([]BackupCode, 0, len(plaintext))
	for _, code := range plaintext {
		records = append(records, BackupCode{
			Hash: internal.HashBackupCode(accountID, internal.CanonicalizeBackupCode(code)),
		})
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, storeFailure(err)
	}
	return plaintext, nil
}
