package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned for structurally valid tokens past exp.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenInvalid is returned for every other parse or claim failure.
	ErrTokenInvalid = errors.New("jwt: token invalid")
)

// Config pins the signing setup. Exactly one of Secret (HS256) or the
// Ed25519 key pair must be set.
type Config struct {
	Secret     []byte
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	TTL      time.Duration
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims is the session token payload: the account and the revocable
// session record it is bound to.
type Claims struct {
	AccountID string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and parses session tokens with a fixed method and key.
type Manager struct {
	config Config
	method jwt.SigningMethod
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("jwt: ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway outside 0..2m")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("jwt: issuer required")
	}

	hasHS := len(cfg.Secret) > 0
	hasEd := len(cfg.PrivateKey) > 0 || len(cfg.PublicKey) > 0
	switch {
	case hasHS && hasEd:
		return nil, errors.New("jwt: configure one signing method, not both")
	case hasHS:
		if len(cfg.Secret) < 32 {
			return nil, errors.New("jwt: hs256 secret must be at least 32 bytes")
		}
		return &Manager{config: cfg, method: jwt.SigningMethodHS256}, nil
	case hasEd:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("jwt: invalid ed25519 private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("jwt: invalid ed25519 public key")
		}
		return &Manager{config: cfg, method: jwt.SigningMethodEdDSA}, nil
	default:
		return nil, errors.New("jwt: signing material required")
	}
}

// TTL exposes the configured token lifetime.
func (m *Manager) TTL() time.Duration { return m.config.TTL }

// Issue signs a token for the account/session pair.
func (m *Manager) Issue(accountID, sessionID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(m.config.TTL)

	claims := Claims{
		AccountID: accountID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token, err := jwt.NewWithClaims(m.method, claims).SignedString(m.signKey())
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Parse verifies the signature and registered claims and returns the
// payload. Errors are collapsed to ErrTokenExpired / ErrTokenInvalid.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.verifyKey(), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.AccountID == "" || claims.SessionID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *Manager) signKey() interface{} {
	if m.method == jwt.SigningMethodHS256 {
		return m.config.Secret
	}
	return m.config.PrivateKey
}

func (m *Manager) verifyKey() interface{} {
	if m.method == jwt.SigningMethodHS256 {
		return m.config.Secret
	}
	return m.config.PublicKey
}
