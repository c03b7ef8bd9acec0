package authstate

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tmachard/authstate/internal/stores"
)

// createLoginChallenge parks a password-verified login until the second
// factor arrives. The challenge is the only credential the client holds
// between the rounds; it is single-use, TTL-bound, and attempt-limited.
func (e *Engine) createLoginChallenge(ctx context.Context, accountID string) (string, error) {
	challengeID := uuid.NewString()

	err := e.challenges.Save(ctx, challengeID, &stores.ChallengeRecord{
		AccountID: accountID,
		ExpiresAt: e.now().Add(e.config.Challenge.TTL).Unix(),
	}, e.config.Challenge.TTL)
	if err != nil {
		return "", storeFailure(err)
	}
	return challengeID, nil
}

// deferToTwoFactor parks a verified first factor behind a fresh challenge.
// Every login path (password, login code, OAuth) funnels through here when
// the account has 2FA enabled; no session exists until CompleteTwoFactor
// succeeds.
func (e *Engine) deferToTwoFactor(ctx context.Context, accountID string, meta map[string]string) (*LoginResult, error) {
	challengeID, err := e.createLoginChallenge(ctx, accountID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(auditEventTwoFactorRequired, true, accountID, nil, meta)
	return &LoginResult{
		AccountID:         accountID,
		TwoFactorRequired: true,
		ChallengeID:       challengeID,
	}, nil
}

// CompleteTwoFactor finishes a login parked by a TwoFactorRequired
// result. The proof is classified by shape: a string of exactly the
// configured TOTP digit count is treated as a TOTP code, anything else as
// a backup code; exactly one path runs per call.
//
// Every challenge-side failure (unknown, expired, exhausted, replayed)
// collapses to ErrInvalidTwoFactorToken. Success issues the session and
// clears lockout state, completing the contract Login deferred.
func (e *Engine) CompleteTwoFactor(ctx context.Context, challengeID, proof string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" || proof == "" {
		return nil, ErrInvalidTwoFactorToken
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			e.metricInc(MetricTwoFactorFailure)
			return nil, ErrInvalidTwoFactorToken
		default:
			return nil, storeFailure(err)
		}
	}

	account, err := e.accounts.FindByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_, _ = e.challenges.Delete(ctx, challengeID)
			return nil, ErrInvalidTwoFactorToken
		}
		return nil, storeFailure(err)
	}
	if !account.Active || account.Blocked {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrAccountDisabled
	}
	if !account.TwoFactor.Enabled {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrInvalidTwoFactorToken
	}

	var verifyErr error
	if isTOTPShaped(proof, e.config.TOTP.Digits) {
		verifyErr = e.verifyTOTPCode(ctx, account.ID, account.TwoFactor.Secret, proof)
	} else {
		verifyErr = e.consumeBackupCode(ctx, account.ID, proof)
	}

	if verifyErr != nil {
		if errors.Is(verifyErr, ErrTwoFactorRateLimited) {
			return nil, verifyErr
		}
		if errors.Is(verifyErr, ErrStoreUnavailable) {
			return nil, verifyErr
		}
		return nil, e.failLoginChallenge(ctx, challengeID, account.ID)
	}

	// Single-use: a parallel completion wins the DEL race and this one is
	// treated as a replay, even though the proof itself verified.
	existed, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !existed {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(auditEventTwoFactorFailure, false, account.ID, ErrInvalidTwoFactorToken,
			map[string]string{"reason": "challenge_replay"})
		return nil, ErrInvalidTwoFactorToken
	}

	// The backup path already counted MetricBackupCodeUsed inside
	// consumeBackupCode; both paths count as a completed 2FA round.
	result, err := e.finishLogin(ctx, account.ID, auditEventTwoFactorSuccess, MetricTwoFactorSuccess)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) failLoginChallenge(ctx context.Context, challengeID, accountID string) error {
	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.Challenge.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
			return ErrInvalidTwoFactorToken
		default:
			return storeFailure(err)
		}
	}

	e.metricInc(MetricTwoFactorFailure)
	if exceeded {
		e.emitAudit(auditEventTwoFactorFailure, false, accountID, ErrInvalidTwoFactorToken,
			map[string]string{"reason": "attempts_exceeded"})
	} else {
		e.emitAudit(auditEventTwoFactorFailure, false, accountID, ErrInvalidTwoFactorToken, nil)
	}
	return ErrInvalidTwoFactorToken
}

// isTOTPShaped reports whether the proof looks like an authenticator
// code: exactly digits long, digits only.
func isTOTPShaped(proof string, digits int) bool {
	if len(proof) != digits {
		return false
	}
	for i := 0; i < len(proof); i++ {
		if proof[i] < '0' || proof[i] > '9' {
			return false
		}
	}
	return true
}
