package authstate

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tmachard/authstate/internal"
	"github.com/tmachard/authstate/internal/limiters"
	"github.com/tmachard/authstate/internal/stores"
	"github.com/tmachard/authstate/jwt"
	"github.com/tmachard/authstate/oauth"
	"github.com/tmachard/authstate/password"
	"github.com/tmachard/authstate/session"
)

// Builder assembles an Engine. Construction is allocation-only; no I/O
// happens until the first Engine method call.
type Builder struct {
	config     Config
	hasConfig  bool
	redis      *redis.Client
	accounts   AccountStore
	delivery   DeliveryDispatcher
	oauth      *oauth.Client
	auditSink  AuditSink
	hashParams *password.Params
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasConfig = true
	return b
}

// WithRedis sets the client backing slots, limiters, challenges, and sessions.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the persistent account backend.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithDelivery sets the email/SMS transport. Optional; without it every
// code-issuing flow fails with ErrDeliveryFailed.
func (b *Builder) WithDelivery(dispatcher DeliveryDispatcher) *Builder {
	b.delivery = dispatcher
	return b
}

// WithOAuth enables provider login through the given client. Optional.
func (b *Builder) WithOAuth(client *oauth.Client) *Builder {
	b.oauth = client
	return b
}

// WithAuditSink sets the audit destination; effective only when
// Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPasswordParams overrides the argon2id cost. Test knob; production
// should keep password.DefaultParams.
func (b *Builder) WithPasswordParams(params password.Params) *Builder {
	b.hashParams = &params
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.hasConfig {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("authstate: redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("authstate: account store required")
	}

	params := password.DefaultParams
	if b.hashParams != nil {
		params = *b.hashParams
	}
	hasher, err := password.NewHasher(params)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Secret:     cfg.JWT.Secret,
		PrivateKey: cfg.JWT.Ed25519PrivateKey,
		PublicKey:  cfg.JWT.Ed25519PublicKey,
		TTL:        cfg.JWT.TTL,
		Issuer:     cfg.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	// The decoy keeps unknown-identity logins on the same cost path as
	// wrong-password logins.
	decoy, err := internal.OpaqueToken(24)
	if err != nil {
		return nil, err
	}
	decoyHash, err := hasher.Hash(decoy)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		accounts: b.accounts,
		delivery: b.delivery,
		oauth:    b.oauth,
		hasher:   hasher,
		tokens:   tokens,
		sessions: session.NewStore(b.redis, cfg.Session.KeyPrefix),
		slots:    stores.NewSecretSlotStore(b.redis, "aos"),
		resets:   stores.NewResetTokenStore(b.redis, "art"),
		challenges: stores.NewLoginChallengeStore(
			b.redis, "alc",
		),
		lockout: limiters.NewLockout(b.redis, limiters.LockoutConfig{
			MaxFailures:   cfg.Lockout.MaxFailures,
			LockDuration:  cfg.Lockout.LockDuration,
			FailureWindow: cfg.Lockout.FailureWindow,
		}),
		cooldown: limiters.NewCooldown(b.redis, cfg.OTP.ResendCooldown),
		totpGuard: limiters.NewTOTP(b.redis, limiters.TOTPConfig{
			MaxAttempts: cfg.TOTP.VerifyMaxAttempts,
			Window:      cfg.TOTP.VerifyWindow,
		}),
		audit:     newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:   &metricSet{},
		decoyHash: decoyHash,
		now:       time.Now,
	}

	return engine, nil
}
