package authstate

import (
	"errors"
	"fmt"
	"time"
)

// Config carries every tunable of the engine. Zero value is not usable;
// start from DefaultConfig and override, then Builder.Build validates.
type Config struct {
	// Issuer names the service in TOTP provisioning URIs and JWT iss claims.
	Issuer string

	Lockout   LockoutConfig
	OTP       OTPConfig
	TOTP      TOTPConfig
	Challenge ChallengeConfig
	JWT       JWTConfig
	Session   SessionConfig
	Audit     AuditConfig
}

// LockoutConfig governs the failed-password counter and the timed lock.
type LockoutConfig struct {
	// MaxFailures is the number of consecutive password failures that trips the lock.
	MaxFailures int
	// LockDuration is how long login stays blocked once tripped.
	LockDuration time.Duration
	// FailureWindow is the rolling TTL of the failure counter.
	FailureWindow time.Duration
}

// OTPConfig governs one-time codes: length, per-purpose budgets, and the
// re-issue cooldown.
type OTPConfig struct {
	Digits int

	// VerifyTTL/VerifyMaxAttempts apply to email-verify and sms-verify codes.
	VerifyTTL         time.Duration
	VerifyMaxAttempts int

	// LoginTTL/LoginMaxAttempts apply to login codes.
	LoginTTL         time.Duration
	LoginMaxAttempts int

	// ResetTTL/ResetMaxAttempts apply to password-reset codes.
	ResetTTL         time.Duration
	ResetMaxAttempts int

	// ResendCooldown is the minimum gap between issues for the same
	// account/purpose; violations surface ErrTooManyRequests with a
	// retry-after hint.
	ResendCooldown time.Duration

	// ResetTokenTTL bounds the opaque token minted after a successful
	// password-reset code exchange.
	ResetTokenTTL time.Duration
}

// budget returns the TTL and attempt budget for a purpose.
func (c OTPConfig) budget(purpose SecretPurpose) (time.Duration, int) {
	switch purpose {
	case PurposeLogin:
		return c.LoginTTL, c.LoginMaxAttempts
	case PurposePasswordReset:
		return c.ResetTTL, c.ResetMaxAttempts
	default:
		return c.VerifyTTL, c.VerifyMaxAttempts
	}
}

// TOTPConfig governs the 2FA algorithm parameters and backup codes.
type TOTPConfig struct {
	Digits int
	// Period is the time step in seconds.
	Period uint
	// Skew is the accepted clock drift in steps on each side of now.
	Skew uint
	// SecretSize is the generated secret length in bytes.
	SecretSize uint

	BackupCodeCount int
	// BackupCodeBytes is the entropy per backup code; codes render as
	// uppercase hex, so the displayed length is twice this.
	BackupCodeBytes int

	// VerifyMaxAttempts/VerifyWindow throttle TOTP verification per account.
	VerifyMaxAttempts int
	VerifyWindow      time.Duration
}

// ChallengeConfig governs the short-lived challenge that bridges the
// password round and the 2FA round of a login.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// JWTConfig governs session access tokens. HS256 with Secret is the
// default; set Ed25519PrivateKey/Ed25519PublicKey to switch to EdDSA.
type JWTConfig struct {
	Secret            []byte
	Ed25519PrivateKey []byte
	Ed25519PublicKey  []byte
	TTL               time.Duration
	Audience          string
	Leeway            time.Duration
}

// SessionConfig governs the Redis session records backing revocation.
type SessionConfig struct {
	// KeyPrefix namespaces session keys; useful when several services share a Redis.
	KeyPrefix string
}

// AuditConfig governs the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

// DefaultConfig returns the recommended production posture: 5 failures /
// 30 min lockout, 6-digit codes at 5 min and 3 attempts (60 min for
// password reset), TOTP with ±2 steps of drift and 10 backup codes, and
// 24 h sessions.
func DefaultConfig() Config {
	return Config{
		Issuer: "authstate",
		Lockout: LockoutConfig{
			MaxFailures:   5,
			LockDuration:  30 * time.Minute,
			FailureWindow: 30 * time.Minute,
		},
		OTP: OTPConfig{
			Digits:            6,
			VerifyTTL:         5 * time.Minute,
			VerifyMaxAttempts: 3,
			LoginTTL:          5 * time.Minute,
			LoginMaxAttempts:  3,
			ResetTTL:          60 * time.Minute,
			ResetMaxAttempts:  3,
			ResendCooldown:    60 * time.Second,
			ResetTokenTTL:     time.Hour,
		},
		TOTP: TOTPConfig{
			Digits:            6,
			Period:            30,
			Skew:              2,
			SecretSize:        20,
			BackupCodeCount:   10,
			BackupCodeBytes:   4,
			VerifyMaxAttempts: 5,
			VerifyWindow:      5 * time.Minute,
		},
		Challenge: ChallengeConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
		},
		JWT: JWTConfig{
			TTL:    24 * time.Hour,
			Leeway: 30 * time.Second,
		},
		Session: SessionConfig{
			KeyPrefix: "as",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	if c.Issuer == "" {
		return errors.New("config: issuer required")
	}

	if c.Lockout.MaxFailures < 1 {
		return errors.New("config: lockout max failures must be >= 1")
	}
	if c.Lockout.LockDuration <= 0 || c.Lockout.FailureWindow <= 0 {
		return errors.New("config: lockout durations must be positive")
	}

	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return fmt.Errorf("config: otp digits %d outside 4..10", c.OTP.Digits)
	}
	for _, b := range []struct {
		name     string
		ttl      time.Duration
		attempts int
	}{
		{"verify", c.OTP.VerifyTTL, c.OTP.VerifyMaxAttempts},
		{"login", c.OTP.LoginTTL, c.OTP.LoginMaxAttempts},
		{"reset", c.OTP.ResetTTL, c.OTP.ResetMaxAttempts},
	} {
		if b.ttl <= 0 {
			return fmt.Errorf("config: otp %s ttl must be positive", b.name)
		}
		if b.attempts < 1 {
			return fmt.Errorf("config: otp %s max attempts must be >= 1", b.name)
		}
	}
	if c.OTP.ResendCooldown < 0 {
		return errors.New("config: otp resend cooldown must be >= 0")
	}
	if c.OTP.ResetTokenTTL <= 0 {
		return errors.New("config: reset token ttl must be positive")
	}

	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("config: totp digits must be 6 or 8")
	}
	if c.TOTP.Period == 0 {
		return errors.New("config: totp period must be positive")
	}
	if c.TOTP.Skew > 4 {
		return errors.New("config: totp skew above 4 steps defeats the point of TOTP")
	}
	if c.TOTP.SecretSize < 16 {
		return errors.New("config: totp secret must be at least 16 bytes")
	}
	if c.TOTP.BackupCodeCount < 1 || c.TOTP.BackupCodeBytes < 4 {
		return errors.New("config: backup codes need count >= 1 and >= 4 bytes of entropy")
	}
	if c.TOTP.VerifyMaxAttempts < 1 || c.TOTP.VerifyWindow <= 0 {
		return errors.New("config: totp verify throttle misconfigured")
	}

	if c.Challenge.TTL <= 0 || c.Challenge.MaxAttempts < 1 {
		return errors.New("config: login challenge misconfigured")
	}

	hasHS := len(c.JWT.Secret) > 0
	hasEd := len(c.JWT.Ed25519PrivateKey) > 0 || len(c.JWT.Ed25519PublicKey) > 0
	if !hasHS && !hasEd {
		return errors.New("config: jwt signing material required")
	}
	if hasHS && hasEd {
		return errors.New("config: configure either an HS256 secret or an Ed25519 key pair, not both")
	}
	if hasHS && len(c.JWT.Secret) < 32 {
		return errors.New("config: hs256 secret must be at least 32 bytes")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("config: jwt ttl must be positive")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("config: jwt leeway outside 0..2m")
	}

	if c.Session.KeyPrefix == "" {
		return errors.New("config: session key prefix required")
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("config: audit buffer size must be >= 1")
	}

	return nil
}
