package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ---------------------------------------------------------------------------
// Retry Policy
// ---------------------------------------------------------------------------

// ErrMaxRetries wraps the last error after the retry budget is spent.
var ErrMaxRetries = errors.New("resilience: max retries exhausted")

// RetryPolicy retries transient failures with exponential backoff and
// jitter. Non-transient errors abort immediately; ErrCircuitOpen is
// never retried, the breaker's recovery timeout owns that wait.
type RetryPolicy struct {
	maxAttempts  uint64
	baseInterval time.Duration
	maxInterval  time.Duration
	isTransient  func(error) bool
}

// NewRetryPolicy builds a policy. isTransient decides which errors are
// worth another attempt; nil means retry everything.
func NewRetryPolicy(maxAttempts int, baseInterval, maxInterval time.Duration, isTransient func(error) bool) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseInterval <= 0 {
		baseInterval = 200 * time.Millisecond
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Second
	}
	if isTransient == nil {
		isTransient = func(error) bool { return true }
	}
	return &RetryPolicy{
		maxAttempts:  uint64(maxAttempts),
		baseInterval: baseInterval,
		maxInterval:  maxInterval,
		isTransient:  isTransient,
	}
}

// Do runs fn up to maxAttempts times. It returns nil on the first
// success, the error itself when it is not transient, or ErrMaxRetries
// wrapping the last transient error once attempts run out.
func (p *RetryPolicy) Do(ctx context.Context, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.baseInterval
	exp.MaxInterval = p.maxInterval
	exp.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	var lastErr error
	attempts := uint64(0)
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) || !p.isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, p.maxAttempts-1), ctx))
	if err == nil {
		return nil
	}
	if lastErr != nil && !p.isTransient(lastErr) || errors.Is(err, ErrCircuitOpen) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, attempts, lastErr)
}
