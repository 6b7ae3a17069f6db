package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWaitPoll and maxWaitPoll bound how long Wait sleeps between attempts.
const (
	minWaitPoll = 10 * time.Millisecond
	maxWaitPoll = time.Second
)

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set, so every instance sharing the Redis database shares the budget.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// NewRateLimiter creates a RateLimiter backed by the given Client.
func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, script: redis.NewScript(slidingWindowLua)}
}

func rateLimitKey(name string) string {
	return key("ratelimit", name)
}

// Allow counts one call against key when fewer than limit calls happened in
// the trailing window.
func (rl *RateLimiter) Allow(ctx context.Context, name string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.allow(ctx, name, limit, window)
	return ok, err
}

// Wait blocks until Allow succeeds, sleeping for the time until the oldest
// call leaves the window.
func (rl *RateLimiter) Wait(ctx context.Context, name string, limit int, window time.Duration) error {
	for {
		ok, retryAfter, err := rl.allow(ctx, name, limit, window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(min(max(retryAfter, minWaitPoll), maxWaitPoll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}
}

func (rl *RateLimiter) allow(ctx context.Context, name string, limit int, window time.Duration) (bool, time.Duration, error) {
	if limit < 1 || window <= 0 {
		return true, 0, nil
	}
	res, err := rl.script.Run(ctx, rl.rdb, []string{rateLimitKey(name)},
		time.Now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", name, err)
	}
	if len(res) < 3 {
		return false, 0, fmt.Errorf("redis: rate limit %s: unexpected reply length %d", name, len(res))
	}
	return res[0] == 1, time.Duration(res[2]) * time.Microsecond, nil
}

// Pacer binds name and a per-call interval, yielding one call per interval.
func (rl *RateLimiter) Pacer(name string, interval time.Duration) *Pacer {
	return &Pacer{rl: rl, name: name, interval: interval}
}

// Pacer is a RateLimiter bound to one key.
type Pacer struct {
	rl       *RateLimiter
	name     string
	interval time.Duration
}

// Wait blocks until the bound key has budget for one more call.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.rl.Wait(ctx, p.name, 1, p.interval)
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
