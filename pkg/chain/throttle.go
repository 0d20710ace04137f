package chain

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LimiterStore decides whether a write for key may proceed.
type LimiterStore interface {
	Allow(ctx context.Context, key string, cost int) (bool, error)
}

// ThrottlePolicy is the token-bucket shape applied per key.
type ThrottlePolicy struct {
	PerSecond float64
	Burst     int
}

// MemoryLimiter keeps one token bucket per key in process.
type MemoryLimiter struct {
	mu       sync.Mutex
	policy   ThrottlePolicy
	limiters map[string]*rate.Limiter
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(policy ThrottlePolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes cost tokens from key's bucket if available.
func (m *MemoryLimiter) Allow(_ context.Context, key string, cost int) (bool, error) {
	m.mu.Lock()
	lim, ok := m.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.policy.PerSecond), m.policy.Burst)
		m.limiters[key] = lim
	}
	m.mu.Unlock()

	return lim.AllowN(timeNow(), cost), nil
}

// Throttle rejects writes the limiter refuses. Writes are keyed by caller
// address, falling back to the call name for anonymous writes.
type Throttle struct {
	store LimiterStore
	next  Writer
}

// NewThrottle wraps next with store.
func NewThrottle(next Writer, store LimiterStore) *Throttle {
	return &Throttle{store: store, next: next}
}

// Write asks the limiter, then delegates. Limiter errors fail open.
func (t *Throttle) Write(ctx context.Context, call Call) (TxHandle, error) {
	if t.store != nil {
		key := call.From
		if key == "" {
			key = "call:" + call.Name
		}
		allowed, err := t.store.Allow(ctx, key, 1)
		if err == nil && !allowed {
			return "", fmt.Errorf("%w: %s for %s", ErrRateLimited, call.Name, key)
		}
	}
	return t.next.Write(ctx, call)
}
