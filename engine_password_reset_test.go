package authstate

import (
	"context"
	"errors"
	"testing"
)

func requestResetToken(t *testing.T, te *testEngine, email string) string {
	t.Helper()
	ctx := context.Background()

	if err := te.RequestPasswordReset(ctx, email); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	sent := te.delivery.lastEmail(t)
	if sent.purpose != PurposePasswordReset {
		t.Fatalf("purpose = %v, want password-reset", sent.purpose)
	}

	token, err := te.ConfirmPasswordReset(ctx, email, sent.code)
	if err != nil {
		t.Fatalf("confirm reset: %v", err)
	}
	if token == "" {
		t.Fatal("empty reset token")
	}
	return token
}

func TestPasswordResetFlow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "old-password-1")

	// A live session that must die with the reset.
	login, err := te.Login(ctx, "user@example.com", "old-password-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	token := requestResetToken(t, te, "user@example.com")

	if err := te.CompletePasswordReset(ctx, token, "new-password-1"); err != nil {
		t.Fatalf("complete reset: %v", err)
	}

	if _, err := te.Login(ctx, "user@example.com", "old-password-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := te.Login(ctx, "user@example.com", "new-password-1"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	if _, err := te.Validate(ctx, login.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("pre-reset session err = %v, want ErrTokenInvalid", err)
	}
}

func TestPasswordResetTokenSingleUse(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "old-password-1")

	token := requestResetToken(t, te, "user@example.com")

	if err := te.CompletePasswordReset(ctx, token, "new-password-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err := te.CompletePasswordReset(ctx, token, "even-newer-1")
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("reuse err = %v, want ErrResetTokenInvalid", err)
	}
}

func TestPasswordResetWeakPasswordKeepsToken(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "old-password-1")

	token := requestResetToken(t, te, "user@example.com")

	if err := te.CompletePasswordReset(ctx, token, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("err = %v, want ErrPasswordPolicy", err)
	}

	// The rejected password did not burn the token.
	if err := te.CompletePasswordReset(ctx, token, "new-password-1"); err != nil {
		t.Fatalf("complete after policy reject: %v", err)
	}
}

func TestPasswordResetUnknownToken(t *testing.T) {
	te := newTestEngine(t)

	err := te.CompletePasswordReset(context.Background(), "never-minted", "new-password-1")
	if !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("err = %v, want ErrResetTokenInvalid", err)
	}
}

func TestPasswordResetRequestUnknownIdentity(t *testing.T) {
	te := newTestEngine(t)

	// Unknown identities are indistinguishable from known ones.
	if err := te.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	te.delivery.mu.Lock()
	defer te.delivery.mu.Unlock()
	if len(te.delivery.emails) != 0 {
		t.Errorf("emails = %d, want 0", len(te.delivery.emails))
	}
}

func TestPasswordResetWrongCode(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "old-password-1")

	if err := te.RequestPasswordReset(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)

	if _, err := te.ConfirmPasswordReset(ctx, "user@example.com", wrongCode(sent.code)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}

	// The miss burned one attempt, not the code itself.
	if _, err := te.ConfirmPasswordReset(ctx, "user@example.com", sent.code); err != nil {
		t.Fatalf("confirm with right code: %v", err)
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "old-password-1")

	for i := 0; i < te.config.Lockout.MaxFailures; i++ {
		_, _ = te.Login(ctx, "user@example.com", "wrong")
	}
	if _, err := te.Login(ctx, "user@example.com", "old-password-1"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}

	token := requestResetToken(t, te, "user@example.com")
	if err := te.CompletePasswordReset(ctx, token, "new-password-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// The reset is a proof of account ownership; the lock goes with it.
	if _, err := te.Login(ctx, "user@example.com", "new-password-1"); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}
