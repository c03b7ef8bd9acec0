package authstate

import (
	"context"
	"time"
)

// SecretPurpose identifies what a pending one-time code proves. Exactly one
// code is pending per account at a time, regardless of purpose.
type SecretPurpose uint8

const (
	// PurposeEmailVerify marks a code that confirms ownership of the account email.
	PurposeEmailVerify SecretPurpose = iota + 1
	// PurposeSMSVerify marks a code that confirms ownership of the account phone.
	PurposeSMSVerify
	// PurposeLogin marks a code that completes a passwordless or step-up login.
	PurposeLogin
	// PurposePasswordReset marks a code that authorizes a password reset.
	PurposePasswordReset
)

func (p SecretPurpose) String() string {
	switch p {
	case PurposeEmailVerify:
		return "email-verify"
	case PurposeSMSVerify:
		return "sms-verify"
	case PurposeLogin:
		return "login"
	case PurposePasswordReset:
		return "password-reset"
	default:
		return "unknown"
	}
}

// valid reports whether p is one of the defined purposes.
func (p SecretPurpose) valid() bool {
	return p >= PurposeEmailVerify && p <= PurposePasswordReset
}

// Account is the engine's view of a stored identity. The AccountStore owns
// persistence; the engine never mutates an Account value it handed out.
type Account struct {
	ID    string
	Email string // unique, stored lower-cased
	Phone string // optional, E.164

	// PasswordHash is a PHC-format argon2id string, empty for OAuth-only accounts.
	PasswordHash string

	EmailVerified bool
	PhoneVerified bool
	Active        bool
	Blocked       bool

	TwoFactor TwoFactorState

	// OAuthIDs maps provider name to the provider-side account ID.
	OAuthIDs map[string]string

	Name      string
	AvatarURL string

	LastLogin    time.Time
	LastActiveAt time.Time
	CreatedAt    time.Time
}

// HasPassword reports whether password login is possible for the account.
func (a Account) HasPassword() bool { return a.PasswordHash != "" }

// TwoFactorState carries the TOTP material for an account. Secret may be set
// while Enabled is false: that is the setup-pending state, and the secret
// must not gate login until a setup confirmation succeeds.
type TwoFactorState struct {
	Enabled bool
	Secret  string // base32, empty when 2FA was never set up or was disabled
	SetupAt time.Time
}

// BackupCode is one stored recovery code. Only a SHA-256 hash is persisted;
// plaintext exists only in the return value of setup/regeneration.
type BackupCode struct {
	Hash   [32]byte
	Used   bool
	UsedAt time.Time
}

// AccountStore is the persistence boundary for account records. Lookups
// return ErrAccountNotFound on miss and Create returns ErrDuplicateIdentity
// on a unique-constraint collision; any other failure should wrap the
// store's own error (the engine surfaces it as ErrStoreUnavailable).
//
// ConsumeBackupCode must be atomic with respect to concurrent calls for the
// same account: a stored code is marked used at most once, and the second
// caller observes false.
type AccountStore interface {
	Create(ctx context.Context, account Account) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByPhone(ctx context.Context, phone string) (Account, error)
	FindByOAuth(ctx context.Context, provider, providerID string) (Account, error)

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	MarkPhoneVerified(ctx context.Context, id string) error
	LinkOAuth(ctx context.Context, id, provider, providerID string) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	TouchActive(ctx context.Context, id string, at time.Time) error

	SetPendingTOTPSecret(ctx context.Context, id, secret string) error
	EnableTOTP(ctx context.Context, id string, at time.Time) error
	DisableTOTP(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, codes []BackupCode) error
	ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error)

	Delete(ctx context.Context, id string) error
}

// DeliveryDispatcher sends one-time codes over an external channel. The
// engine treats any returned error as delivery failure and rolls the
// just-issued code back before surfacing ErrDeliveryFailed, so a code is
// never live without having been handed to the transport.
type DeliveryDispatcher interface {
	SendEmailCode(ctx context.Context, address, code string, purpose SecretPurpose) error
	SendSMSCode(ctx context.Context, e164Phone, code string, purpose SecretPurpose) error
}

// LoginResult is returned by Login and the flows that complete it.
//
// When TwoFactorRequired is true the password round succeeded but no session
// exists yet: Token and SessionID are empty and ChallengeID must be passed
// to CompleteTwoFactor together with a TOTP or backup code.
type LoginResult struct {
	AccountID string
	Token     string
	SessionID string
	ExpiresAt time.Time

	TwoFactorRequired bool
	ChallengeID       string
}

// TwoFactorSetup is the provisioning material returned by GenerateTwoFactorSetup.
type TwoFactorSetup struct {
	SecretBase32    string
	ProvisioningURI string
}

// CodeStatus describes the pending one-time code for an account without
// revealing the code itself.
type CodeStatus struct {
	Pending      bool
	Purpose      SecretPurpose
	ExpiresIn    time.Duration
	AttemptsLeft int
}

// Identity is the verified subject of a session token.
type Identity struct {
	AccountID string
	SessionID string
	ExpiresAt time.Time
}
