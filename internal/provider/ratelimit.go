package provider

import (
	"context"
	"sync"
	"time"
)

// slack keeps the post-wait prune strictly past the window edge.
const rateLimitSlack = 100 * time.Millisecond

// RateLimiter is a sliding-window throttle shared by REST providers:
// at most maxCalls calls within any rolling period. Callers over the
// quota block until the oldest recorded call ages out of the window.
type RateLimiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	calls    []time.Time
}

func NewRateLimiter(maxCalls int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		maxCalls: maxCalls,
		period:   period,
	}
}

// Acquire records one call, waiting first if the window is full.
// The mutex is held across the wait so blocked callers drain in
// wait order.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.prune(now)

	if len(rl.calls) >= rl.maxCalls {
		wait := rl.period - now.Sub(rl.calls[0]) + rateLimitSlack
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			rl.prune(time.Now())
		}
	}

	rl.calls = append(rl.calls, time.Now())
	return nil
}

// InFlight returns how many calls are currently inside the window.
func (rl *RateLimiter) InFlight() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.prune(time.Now())
	return len(rl.calls)
}

func (rl *RateLimiter) prune(now time.Time) {
	cut := 0
	for cut < len(rl.calls) && now.Sub(rl.calls[cut]) >= rl.period {
		cut++
	}
	if cut > 0 {
		rl.calls = append(rl.calls[:0], rl.calls[cut:]...)
	}
}
