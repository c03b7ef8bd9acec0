package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrResetTokenNotFound covers unknown, expired, and already-used tokens.
	ErrResetTokenNotFound = errors.New("reset token not found")
	// ErrResetTokenUnavailable wraps Redis failures.
	ErrResetTokenUnavailable = errors.New("reset token backend unavailable")
)

// ResetTokenStore holds the opaque single-use tokens minted after a
// password-reset code is verified. Keys are the SHA-256 of the token, so a
// Redis dump never yields a usable credential. Consumption is GETDEL, which
// makes single-use atomic without a transaction.
type ResetTokenStore struct {
	redis  *redis.Client
	prefix string
}

func NewResetTokenStore(redisClient *redis.Client, prefix string) *ResetTokenStore {
	return &ResetTokenStore{redis: redisClient, prefix: prefix}
}

func (s *ResetTokenStore) key(tokenHash [32]byte) string {
	return s.prefix + ":" + hex.EncodeToString(tokenHash[:])
}

// Save registers a token hash for the account with the given TTL.
func (s *ResetTokenStore) Save(ctx context.Context, tokenHash [32]byte, accountID string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(tokenHash), accountID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetTokenUnavailable, err)
	}
	return nil
}

// Consume redeems a token hash exactly once and returns the bound account ID.
func (s *ResetTokenStore) Consume(ctx context.Context, tokenHash [32]byte) (string, error) {
	accountID, err := s.redis.GetDel(ctx, s.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrResetTokenNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrResetTokenUnavailable, err)
	}
	return accountID, nil
}
