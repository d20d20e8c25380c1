package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated identity may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds rate limit settings for a service tier.
type TierConfig struct {
	RequestsPerWindow int
}

// InProcessLimiter is a fixed-window limiter that counts requests per
// subject and tier in memory.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultMax int
	window     time.Duration
	now        func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a limiter. A window of zero means one minute;
// a limit of zero or less disables limiting for that tier.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultMax int, window time.Duration) *InProcessLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InProcessLimiter{
		tiers:      tiers,
		defaultMax: defaultMax,
		window:     window,
		now:        time.Now,
		counters:   make(map[string]*counter),
	}
}

// Allow returns ErrTooManyRequests once the identity exceeds its tier's
// limit within the current window.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = "default"
	}

	limit := l.defaultMax
	if tc, ok := l.tiers[tier]; ok {
		limit = tc.RequestsPerWindow
	}
	if limit <= 0 {
		return nil
	}

	key := identity.Subject + ":" + tier

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= l.window {
		l.counters[key] = &counter{count: 1, windowAt: now}
		l.sweep(now)
		return nil
	}

	c.count++
	if c.count > limit {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops counters whose window has passed. Callers hold l.mu.
func (l *InProcessLimiter) sweep(now time.Time) {
	for k, c := range l.counters {
		if now.Sub(c.windowAt) >= l.window {
			delete(l.counters, k)
		}
	}
}
