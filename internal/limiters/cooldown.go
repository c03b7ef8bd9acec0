package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCoolingDown means the account/purpose pair issued a code too recently.
	ErrCoolingDown = errors.New("issue cooldown active")
	// ErrCooldownUnavailable wraps Redis failures in the cooldown limiter.
	ErrCooldownUnavailable = errors.New("cooldown backend unavailable")
)

// Cooldown enforces the minimum gap between code issues for the same
// account and purpose, so a caller cannot drain the delivery channel.
// Reserve is SET NX, which both checks and claims the window atomically.
type Cooldown struct {
	redis  *redis.Client
	window time.Duration
}

func NewCooldown(redisClient *redis.Client, window time.Duration) *Cooldown {
	return &Cooldown{redis: redisClient, window: window}
}

func (c *Cooldown) key(accountID string, purpose uint8) string {
	return "acd:" + accountID + ":" + strconv.Itoa(int(purpose))
}

// Reserve claims the cooldown window. When the window is already held it
// returns ErrCoolingDown together with the remaining wait.
func (c *Cooldown) Reserve(ctx context.Context, accountID string, purpose uint8) (time.Duration, error) {
	if c.window <= 0 {
		return 0, nil
	}
	key := c.key(accountID, purpose)

	ok, err := c.redis.SetNX(ctx, key, 1, c.window).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	if ok {
		return 0, nil
	}

	ttl, err := c.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	if ttl <= 0 {
		// Window released between SETNX and PTTL; treat as the full window.
		ttl = c.window
	}
	return ttl, ErrCoolingDown
}

// Release frees the window early. Used when issuance is rolled back after
// a delivery failure, so the user may retry immediately.
func (c *Cooldown) Release(ctx context.Context, accountID string, purpose uint8) error {
	if c.window <= 0 {
		return nil
	}
	if err := c.redis.Del(ctx, c.key(accountID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return nil
}
