package authstate

import (
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = testJWTSecret
	return cfg
}

func TestDefaultConfigNeedsOnlySigningMaterial(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("config without signing material should fail validation")
	}

	cfg.JWT.Secret = testJWTSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no issuer":           func(c *Config) { c.Issuer = "" },
		"zero max failures":   func(c *Config) { c.Lockout.MaxFailures = 0 },
		"zero lock duration":  func(c *Config) { c.Lockout.LockDuration = 0 },
		"otp digits too few":  func(c *Config) { c.OTP.Digits = 3 },
		"otp digits too many": func(c *Config) { c.OTP.Digits = 11 },
		"zero verify ttl":     func(c *Config) { c.OTP.VerifyTTL = 0 },
		"zero login attempts": func(c *Config) { c.OTP.LoginMaxAttempts = 0 },
		"zero reset token":    func(c *Config) { c.OTP.ResetTokenTTL = 0 },
		"totp digits odd":     func(c *Config) { c.TOTP.Digits = 7 },
		"totp skew huge":      func(c *Config) { c.TOTP.Skew = 10 },
		"short totp secret":   func(c *Config) { c.TOTP.SecretSize = 8 },
		"no backup codes":     func(c *Config) { c.TOTP.BackupCodeCount = 0 },
		"challenge no ttl":    func(c *Config) { c.Challenge.TTL = 0 },
		"short jwt secret":    func(c *Config) { c.JWT.Secret = []byte("short") },
		"both jwt methods":    func(c *Config) { c.JWT.Ed25519PrivateKey = make([]byte, 64) },
		"zero jwt ttl":        func(c *Config) { c.JWT.TTL = 0 },
		"huge leeway":         func(c *Config) { c.JWT.Leeway = 5 * time.Minute },
		"no session prefix":   func(c *Config) { c.Session.KeyPrefix = "" },
	}

	for name, mutate := range cases {
		cfg := validTestConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestOTPBudgetPerPurpose(t *testing.T) {
	cfg := validTestConfig()

	ttl, attempts := cfg.OTP.budget(PurposeLogin)
	if ttl != cfg.OTP.LoginTTL || attempts != cfg.OTP.LoginMaxAttempts {
		t.Errorf("login budget = (%v, %d)", ttl, attempts)
	}
	ttl, attempts = cfg.OTP.budget(PurposePasswordReset)
	if ttl != cfg.OTP.ResetTTL || attempts != cfg.OTP.ResetMaxAttempts {
		t.Errorf("reset budget = (%v, %d)", ttl, attempts)
	}
	ttl, attempts = cfg.OTP.budget(PurposeEmailVerify)
	if ttl != cfg.OTP.VerifyTTL || attempts != cfg.OTP.VerifyMaxAttempts {
		t.Errorf("verify budget = (%v, %d)", ttl, attempts)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	if got := RetryAfterSeconds(ErrTooManyRequests); got != 0 {
		t.Errorf("bare sentinel = %d, want 0", got)
	}

	err := retryAfter(ErrTooManyRequests, 1500*time.Millisecond)
	if got := RetryAfterSeconds(err); got != 2 {
		t.Errorf("1.5s = %d, want 2 (rounded up)", got)
	}
	if got := RetryAfterSeconds(retryAfter(ErrAccountLocked, time.Millisecond)); got != 1 {
		t.Errorf("1ms = %d, want 1 (floor)", got)
	}
}
