package authstate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginForChallenge(t *testing.T, te *testEngine, email, password string) string {
	t.Helper()

	result, err := te.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !result.TwoFactorRequired || result.ChallengeID == "" {
		t.Fatalf("result = %+v, want a 2FA challenge", result)
	}
	if result.Token != "" || result.SessionID != "" {
		t.Fatalf("result = %+v, no session may exist before the second factor", result)
	}
	return result.ChallengeID
}

func TestLoginRequiresSecondFactor(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	te.enableTwoFactor(t, account.ID)

	loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	// The password round issued nothing revocable.
	ids, err := te.ActiveSessions(ctx, account.ID)
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("sessions = %v, want none", ids)
	}
}

func TestCodeLoginRequiresSecondFactor(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request login code: %v", err)
	}
	sent := te.delivery.lastEmail(t)

	// The emailed code is a first factor; it must park on a challenge,
	// exactly like a correct password.
	result, err := te.LoginWithCode(ctx, "user@example.com", sent.code)
	if err != nil {
		t.Fatalf("login with code: %v", err)
	}
	if !result.TwoFactorRequired || result.ChallengeID == "" {
		t.Fatalf("result = %+v, want a 2FA challenge", result)
	}
	if result.Token != "" || result.SessionID != "" {
		t.Fatalf("result = %+v, no session may exist before the second factor", result)
	}
	ids, err := te.ActiveSessions(ctx, account.ID)
	if err != nil {
		t.Fatalf("active sessions: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("sessions = %v, want none", ids)
	}

	completed, err := te.CompleteTwoFactor(ctx, result.ChallengeID, totpCode(t, secret))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := te.Validate(ctx, completed.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCompleteTwoFactorWithTOTP(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	result, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Token == "" {
		t.Fatal("no token issued")
	}
	if _, err := te.Validate(ctx, result.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestCompleteTwoFactorWithBackupCode(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	_, backups := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")
	result, err := te.CompleteTwoFactor(ctx, challengeID, backups[0])
	if err != nil {
		t.Fatalf("complete with backup code: %v", err)
	}
	if result.Token == "" {
		t.Fatal("no token issued")
	}

	// The code is single-use.
	challengeID = loginForChallenge(t, te, "user@example.com", "hunter22-correct")
	_, err = te.CompleteTwoFactor(ctx, challengeID, backups[0])
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Errorf("reused code err = %v, want ErrInvalidTwoFactorToken", err)
	}
}

func TestCompleteTwoFactorAcceptsFormattedBackupCode(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	_, backups := te.enableTwoFactor(t, account.ID)

	// Lowercase with a separator, the way a user might retype it.
	code := backups[0]
	formatted := " " + string(code[0]|0x20) + string(code[1:4]) + "-" + string(code[4:]) + " "

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")
	if _, err := te.CompleteTwoFactor(ctx, challengeID, formatted); err != nil {
		t.Fatalf("complete with formatted code: %v", err)
	}
}

func TestCompleteTwoFactorWrongProof(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	_, err := te.CompleteTwoFactor(ctx, challengeID, wrongCode(totpCode(t, secret)))
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Fatalf("err = %v, want ErrInvalidTwoFactorToken", err)
	}

	// A failed second factor must not touch the password failure counter.
	count, err := te.lockout.FailureCount(ctx, account.ID)
	if err != nil {
		t.Fatalf("failure count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}

	// The challenge survives inside its budget; a valid code still completes.
	if _, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret)); err != nil {
		t.Fatalf("complete after one miss: %v", err)
	}
}

func TestCompleteTwoFactorAttemptBudget(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	for i := 0; i < te.config.Challenge.MaxAttempts; i++ {
		_, err := te.CompleteTwoFactor(ctx, challengeID, wrongCode(totpCode(t, secret)))
		if !errors.Is(err, ErrInvalidTwoFactorToken) {
			t.Fatalf("attempt %d: err = %v", i+1, err)
		}
	}

	// The challenge is gone; even a valid code cannot revive it.
	_, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret))
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Errorf("err = %v, want ErrInvalidTwoFactorToken after the budget", err)
	}
}

func TestCompleteTwoFactorReplay(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	if _, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret)); err != nil {
		t.Fatalf("first completion: %v", err)
	}

	// The challenge burned with the first completion.
	_, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret))
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Errorf("replay err = %v, want ErrInvalidTwoFactorToken", err)
	}
}

func TestCompleteTwoFactorUnknownChallenge(t *testing.T) {
	te := newTestEngine(t)

	_, err := te.CompleteTwoFactor(context.Background(), "never-issued", "123456")
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Errorf("err = %v, want ErrInvalidTwoFactorToken", err)
	}
}

func TestCompleteTwoFactorExpiredChallenge(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	secret, _ := te.enableTwoFactor(t, account.ID)

	challengeID := loginForChallenge(t, te, "user@example.com", "hunter22-correct")

	te.redis.FastForward(te.config.Challenge.TTL + time.Minute)

	_, err := te.CompleteTwoFactor(ctx, challengeID, totpCode(t, secret))
	if !errors.Is(err, ErrInvalidTwoFactorToken) {
		t.Errorf("err = %v, want ErrInvalidTwoFactorToken for an expired challenge", err)
	}
}
