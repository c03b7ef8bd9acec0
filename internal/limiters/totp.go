package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTOTPRateLimited means too many TOTP failures in the window.
	ErrTOTPRateLimited = errors.New("totp verification rate limited")
	// ErrTOTPLimiterUnavailable wraps Redis failures in the TOTP limiter.
	ErrTOTPLimiterUnavailable = errors.New("totp limiter backend unavailable")
)

// TOTPConfig mirrors the engine's TOTP throttle tunables.
type TOTPConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// TOTP is a fixed-window failure counter for 2FA code verification. It
// backstops the challenge attempt budget: even if a caller keeps minting
// fresh challenges, sustained guessing against one account trips here.
type TOTP struct {
	redis  *redis.Client
	config TOTPConfig
}

func NewTOTP(redisClient *redis.Client, cfg TOTPConfig) *TOTP {
	return &TOTP{redis: redisClient, config: cfg}
}

func (l *TOTP) key(accountID string) string {
	return "atf:" + accountID
}

// Check returns ErrTOTPRateLimited when the window budget is already spent.
func (l *TOTP) Check(ctx context.Context, accountID string) error {
	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrTOTPLimiterUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrTOTPRateLimited
	}
	return nil
}

// RecordFailure counts one failed verification in the window.
func (l *TOTP) RecordFailure(ctx context.Context, accountID string) error {
	key := l.key(accountID)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrTOTPLimiterUnavailable, err)
		}
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrTOTPRateLimited
	}
	return nil
}

// Reset clears the window after a successful verification.
func (l *TOTP) Reset(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPLimiterUnavailable, err)
	}
	return nil
}
