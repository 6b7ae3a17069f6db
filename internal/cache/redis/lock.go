package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// releaseLua deletes the lock only while it still carries the holder's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the holder still owns the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// release and extend scripts. Tokens of locks held by this process are kept
// so Extend can prove ownership.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
	extend  *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.rdb,
		release: redis.NewScript(releaseLua),
		extend:  redis.NewScript(extendLua),
		tokens:  make(map[string]string),
	}
}

func lockKey(name string) string {
	return key("lock", name)
}

// Acquire takes the lock for name or returns domain.ErrLockHeld. The returned
// unlock func is idempotent and runs with its own short timeout so it works
// after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lockKey(name)

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	lm.mu.Lock()
	lm.tokens[name] = token
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			if lm.tokens[name] == token {
				delete(lm.tokens, name)
			}
			lm.mu.Unlock()

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.rdb, []string{k}, token).Err()
		})
	}, nil
}

// Extend pushes the expiry of a lock held by this process to ttl from now.
// It returns domain.ErrLockHeld when the lock expired and was taken by
// someone else, and domain.ErrNotFound when this process never held it.
func (lm *LockManager) Extend(ctx context.Context, name string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[name]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: extend lock %s: %w", name, domain.ErrNotFound)
	}

	n, err := lm.extend.Run(ctx, lm.rdb, []string{lockKey(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: extend lock %s: %w", name, domain.ErrLockHeld)
	}
	return nil
}

var _ domain.LockManager = (*LockManager)(nil)
