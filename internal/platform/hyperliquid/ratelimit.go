package hyperliquid

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outgoing API calls. Wait returns once a call may be sent.
type Limiter interface {
	Wait(ctx context.Context) error
}

// intervalLimiter spaces calls made through one client at least interval
// apart. Slots are reserved in call order.
type intervalLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	next time.Time
}

func newIntervalLimiter(interval time.Duration) *intervalLimiter {
	return &intervalLimiter{interval: interval, now: time.Now}
}

func (l *intervalLimiter) Wait(ctx context.Context) error {
	if l.interval <= 0 {
		return ctx.Err()
	}
	l.mu.Lock()
	now := l.now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()

	delay := at.Sub(now)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
