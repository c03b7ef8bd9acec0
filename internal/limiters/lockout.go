package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable wraps Redis failures in the lockout limiter.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutConfig mirrors the engine's lockout tunables.
type LockoutConfig struct {
	MaxFailures   int
	LockDuration  time.Duration
	FailureWindow time.Duration
}

// Lockout tracks consecutive password failures per account and flips a
// timed lock when the threshold is reached. The failure counter lives in a
// fixed window opened at the first failure; later failures count against it
// but do not extend it. The lock key's own TTL is the remaining lock time,
// so Status never needs a stored timestamp.
type Lockout struct {
	redis  *redis.Client
	config LockoutConfig
}

func NewLockout(redisClient *redis.Client, cfg LockoutConfig) *Lockout {
	return &Lockout{redis: redisClient, config: cfg}
}

func (l *Lockout) failKey(accountID string) string {
	return "alf:" + accountID
}

func (l *Lockout) lockKey(accountID string) string {
	return "all:" + accountID
}

// Status reports whether the account is locked and for how much longer.
func (l *Lockout) Status(ctx context.Context, accountID string) (bool, time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.lockKey(accountID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if ttl <= 0 {
		// -2 key missing, -1 no expiry (never written that way)
		return false, 0, nil
	}
	return true, ttl, nil
}

// RecordFailure counts one failed password attempt. When the count reaches
// the threshold it sets the lock, clears the counter, and reports true.
func (l *Lockout) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	key := l.failKey(accountID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.FailureWindow).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if count < int64(l.config.MaxFailures) {
		return false, nil
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.lockKey(accountID), 1, l.config.LockDuration)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// Reset clears both the failure counter and any active lock. Called on
// every completed authentication, password or 2FA.
func (l *Lockout) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.failKey(accountID), l.lockKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current counter value. Diagnostic surface.
func (l *Lockout) FailureCount(ctx context.Context, accountID string) (int, error) {
	count, err := l.redis.Get(ctx, l.failKey(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
