package resilience

import (
	"context"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Rate Limiter
// ---------------------------------------------------------------------------

// RateLimiter caps outbound RPC calls to maxCalls per rolling window.
// It keeps the grant timestamps still inside the window, so no window
// of the configured length ever sees more than maxCalls grants. A
// token bucket cannot give that guarantee: a full bucket plus its
// refill admits up to twice the cap inside one window.
type RateLimiter struct {
	maxCalls int
	window   time.Duration

	mu sync.Mutex
	// grants holds the grant times inside the current window, oldest
	// first.
	grants []time.Time
}

// NewRateLimiter allows maxCalls per window. The full allowance may be
// taken as one burst.
func NewRateLimiter(maxCalls int, window time.Duration) *RateLimiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		maxCalls: maxCalls,
		window:   window,
		grants:   make([]time.Time, 0, maxCalls),
	}
}

// Wait blocks until a call slot is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, retryIn := r.take(time.Now())
		if ok {
			return nil
		}

		timer := time.NewTimer(retryIn)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow reports whether a call could proceed right now, without
// blocking, and takes the slot when it can.
func (r *RateLimiter) Allow() bool {
	ok, _ := r.take(time.Now())
	return ok
}

// take claims a slot at now, or reports how long until the oldest
// grant leaves the window.
func (r *RateLimiter) take(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	expired := 0
	for expired < len(r.grants) && !r.grants[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		r.grants = append(r.grants[:0], r.grants[expired:]...)
	}

	if len(r.grants) < r.maxCalls {
		r.grants = append(r.grants, now)
		return true, 0
	}
	return false, r.grants[0].Add(r.window).Sub(now)
}
