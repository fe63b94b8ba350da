package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// RateLimiter implements domain.RateLimiter with a sorted-set sliding window
// evaluated atomically in Lua. It throttles operator notifications and
// paces execution submissions across processes.
type RateLimiter struct {
	client        *Client
	slidingWindow *redis.Script

	// Wait admits waitLimit requests per waitWindow.
	waitLimit  int
	waitWindow time.Duration
}

// NewRateLimiter creates a RateLimiter. waitLimit and waitWindow govern
// Wait; non-positive values default to one per second.
func NewRateLimiter(c *Client, waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		client:        c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		waitLimit:     waitLimit,
		waitWindow:    waitWindow,
	}
}

// Allow counts one request against key and reports whether it fits inside
// limit requests per window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	result, err := rl.slidingWindow.Run(
		ctx,
		rl.client.Underlying(),
		[]string{rl.client.Key("ratelimit", key)},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(result) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(result))
	}
	return result[0] == 1, nil
}

// Wait blocks until key is admitted or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, err := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
