package authstate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEmailVerificationBurnsAttempts(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	// createAccount marks the email verified; undo that for this flow.
	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	te.accounts.byID[account.ID].EmailVerified = false

	if err := te.RequestEmailVerification(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)

	// Two mismatches inside a budget of three, then even the right code
	// hits exhaustion.
	for i := 0; i < te.config.OTP.VerifyMaxAttempts-1; i++ {
		err := te.ConfirmEmailVerification(ctx, "user@example.com", wrongCode(sent.code))
		if !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidCode", i+1, err)
		}
	}
	err := te.ConfirmEmailVerification(ctx, "user@example.com", sent.code)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}

	// The slot is gone; there is nothing left to confirm against.
	err = te.ConfirmEmailVerification(ctx, "user@example.com", sent.code)
	if !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("err = %v, want ErrNoPendingSecret", err)
	}
}

func TestRequestCodeCooldown(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	err := te.RequestLoginCode(ctx, "user@example.com")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("err = %v, want ErrTooManyRequests", err)
	}
	if RetryAfterSeconds(err) <= 0 {
		t.Errorf("RetryAfterSeconds = %d, want > 0", RetryAfterSeconds(err))
	}

	te.redis.FastForward(te.config.OTP.ResendCooldown + time.Second)
	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request after cooldown: %v", err)
	}
}

func TestLoginWithCode(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)
	if sent.purpose != PurposeLogin {
		t.Fatalf("purpose = %v, want login", sent.purpose)
	}

	result, err := te.LoginWithCode(ctx, "user@example.com", sent.code)
	if err != nil {
		t.Fatalf("login with code: %v", err)
	}
	if _, err := te.Validate(ctx, result.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// The code was consumed with the login.
	if _, err := te.LoginWithCode(ctx, "user@example.com", sent.code); !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("replay err = %v, want ErrNoPendingSecret", err)
	}
}

func TestSinglePendingCodePerAccount(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.OTP.ResendCooldown = 0 })
	ctx := context.Background()

	account := te.createAccount(t, "user@example.com", "hunter22-correct")
	te.accounts.byID[account.ID].EmailVerified = false

	if err := te.RequestEmailVerification(ctx, "user@example.com"); err != nil {
		t.Fatalf("request email verify: %v", err)
	}
	emailCode := te.delivery.lastEmail(t).code

	// Issuing a login code displaces the pending email-verify code.
	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request login code: %v", err)
	}

	err := te.ConfirmEmailVerification(ctx, "user@example.com", emailCode)
	if !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("err = %v, want ErrNoPendingSecret once a different purpose is pending", err)
	}
}

func TestResendReplacesCode(t *testing.T) {
	te := newTestEngine(t, func(cfg *Config) { cfg.OTP.ResendCooldown = 0 })
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	first := te.delivery.lastEmail(t).code

	if err := te.ResendCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("resend: %v", err)
	}
	second := te.delivery.lastEmail(t).code

	// The first code died the moment the second was bound.
	if _, err := te.LoginWithCode(ctx, "user@example.com", first); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("old code err = %v, want ErrInvalidCode", err)
	}
	if _, err := te.LoginWithCode(ctx, "user@example.com", second); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestResendWithoutPending(t *testing.T) {
	te := newTestEngine(t)
	te.createAccount(t, "user@example.com", "hunter22-correct")

	err := te.ResendCode(context.Background(), "user@example.com")
	if !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("err = %v, want ErrNoPendingSecret", err)
	}
}

func TestCancelCode(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)

	if err := te.CancelCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := te.LoginWithCode(ctx, "user@example.com", sent.code); !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("err = %v, want ErrNoPendingSecret after cancel", err)
	}
	if err := te.CancelCode(ctx, "user@example.com"); !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("repeat cancel err = %v, want ErrNoPendingSecret", err)
	}
}

func TestCodeStatus(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	status, err := te.CodeStatus(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Pending {
		t.Fatal("no code should be pending yet")
	}

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)
	if _, err := te.LoginWithCode(ctx, "user@example.com", wrongCode(sent.code)); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("burn attempt: %v", err)
	}

	status, err = te.CodeStatus(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Pending || status.Purpose != PurposeLogin {
		t.Errorf("status = %+v", status)
	}
	if status.AttemptsLeft != te.config.OTP.LoginMaxAttempts-1 {
		t.Errorf("attempts left = %d, want %d", status.AttemptsLeft, te.config.OTP.LoginMaxAttempts-1)
	}
	if status.ExpiresIn <= 0 || status.ExpiresIn > te.config.OTP.LoginTTL {
		t.Errorf("expires in = %v", status.ExpiresIn)
	}
}

func TestCodeStatusFollowsEngineClock(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}

	later := time.Now().Add(2 * time.Minute)
	shifted := func() time.Time { return later }
	te.Engine.now = shifted
	te.slots.SetClock(shifted)

	status, err := te.CodeStatus(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := te.config.OTP.LoginTTL - 2*time.Minute
	if status.ExpiresIn > want || status.ExpiresIn <= want-2*time.Second {
		t.Errorf("expires in = %v, want about %v on the shifted clock", status.ExpiresIn, want)
	}
}

func TestConfirmForUnknownIdentity(t *testing.T) {
	te := newTestEngine(t)

	err := te.ConfirmEmailVerification(context.Background(), "ghost@example.com", "123456")
	if !errors.Is(err, ErrNoPendingSecret) {
		t.Errorf("err = %v, want ErrNoPendingSecret for unknown identity", err)
	}
}

func TestRequestForUnknownIdentityIsSilent(t *testing.T) {
	te := newTestEngine(t)

	// Unknown identities get the same nil as known ones; no delivery happens.
	if err := te.RequestEmailVerification(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	te.delivery.mu.Lock()
	defer te.delivery.mu.Unlock()
	if len(te.delivery.emails) != 0 {
		t.Errorf("emails = %d, want 0", len(te.delivery.emails))
	}
}

func TestPhoneVerificationFlow(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	hash, err := te.hasher.Hash("hunter22-correct")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := te.accounts.Create(ctx, Account{
		ID:           "acct-phone",
		Email:        "phone@example.com",
		Phone:        "+15551234567",
		PasswordHash: hash,
		Active:       true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := te.RequestPhoneVerification(ctx, "phone@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastSMS(t)
	if sent.target != "+15551234567" || sent.purpose != PurposeSMSVerify {
		t.Fatalf("sent = %+v", sent)
	}

	if err := te.ConfirmPhoneVerification(ctx, "phone@example.com", sent.code); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	account, err := te.accounts.FindByID(ctx, "acct-phone")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !account.PhoneVerified {
		t.Error("phone should be verified")
	}
}

func TestCodeExpiry(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	te.createAccount(t, "user@example.com", "hunter22-correct")

	if err := te.RequestLoginCode(ctx, "user@example.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	sent := te.delivery.lastEmail(t)

	base := time.Now()
	expired := func() time.Time { return base.Add(te.config.OTP.LoginTTL + time.Minute) }
	te.slots.SetClock(expired)

	_, err := te.LoginWithCode(ctx, "user@example.com", sent.code)
	if !errors.Is(err, ErrCodeExpired) {
		t.Errorf("err = %v, want ErrCodeExpired", err)
	}
}
