package authstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/tmachard/authstate/password"
)

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

// fastHashParams keeps argon2 cheap in tests.
var fastHashParams = password.Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type sentCode struct {
	target  string
	code    string
	purpose SecretPurpose
}

// mockDelivery records every dispatched code and can be flipped into a
// failing transport.
type mockDelivery struct {
	mu     sync.Mutex
	fail   bool
	emails []sentCode
	smses  []sentCode
}

func (d *mockDelivery) SendEmailCode(_ context.Context, address, code string, purpose SecretPurpose) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return context.DeadlineExceeded
	}
	d.emails = append(d.emails, sentCode{target: address, code: code, purpose: purpose})
	return nil
}

func (d *mockDelivery) SendSMSCode(_ context.Context, phone, code string, purpose SecretPurpose) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return context.DeadlineExceeded
	}
	d.smses = append(d.smses, sentCode{target: phone, code: code, purpose: purpose})
	return nil
}

func (d *mockDelivery) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *mockDelivery) lastEmail(t *testing.T) sentCode {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.emails) == 0 {
		t.Fatal("no email was delivered")
	}
	return d.emails[len(d.emails)-1]
}

func (d *mockDelivery) lastSMS(t *testing.T) sentCode {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.smses) == 0 {
		t.Fatal("no sms was delivered")
	}
	return d.smses[len(d.smses)-1]
}

type testEngine struct {
	*Engine
	accounts *MemoryAccountStore
	delivery *mockDelivery
	redis    *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.JWT.Secret = testJWTSecret
	for _, fn := range mutate {
		fn(&cfg)
	}

	accounts := NewMemoryAccountStore()
	delivery := &mockDelivery{}

	engine, err := NewBuilder().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountStore(accounts).
		WithDelivery(delivery).
		WithPasswordParams(fastHashParams).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, accounts: accounts, delivery: delivery, redis: mr}
}

// createAccount seeds an active, email-verified account directly in the
// store, bypassing Register's verification side effects.
func (te *testEngine) createAccount(t *testing.T, email, plaintext string) Account {
	t.Helper()

	account := Account{
		ID:            "acct-" + email,
		Email:         email,
		EmailVerified: true,
		Active:        true,
		CreatedAt:     time.Now(),
	}
	if plaintext != "" {
		hash, err := te.hasher.Hash(plaintext)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		account.PasswordHash = hash
	}

	created, err := te.accounts.Create(context.Background(), account)
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return created
}

// enableTwoFactor runs the real setup flow and returns the shared secret
// and the plaintext backup codes.
func (te *testEngine) enableTwoFactor(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := te.GenerateTwoFactorSetup(ctx, accountID)
	if err != nil {
		t.Fatalf("generate setup: %v", err)
	}

	code := totpCode(t, setup.SecretBase32)
	backups, err := te.ConfirmTwoFactorSetup(ctx, accountID, code)
	if err != nil {
		t.Fatalf("confirm setup: %v", err)
	}
	return setup.SecretBase32, backups
}

func totpCode(t *testing.T, secret string) string {
	t.Helper()

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate totp code: %v", err)
	}
	return code
}

// wrongCode returns a syntactically valid code guaranteed to differ from
// the given one.
func wrongCode(code string) string {
	out := []byte(code)
	if out[0] == '9' {
		out[0] = '0'
	} else {
		out[0]++
	}
	return string(out)
}
