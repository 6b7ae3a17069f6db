package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache keeps the last resolved reference price per pair.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price decimal.Decimal, source string, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (PricePoint, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Extend(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus provides pub/sub fan-out of encoded events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter paces calls against a shared budget of limit calls per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
