package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")
var errPermanent = errors.New("execution reverted")

func transientOnly(err error) bool {
	return errors.Is(err, errTransient)
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows up to max calls in a window", func(t *testing.T) {
		rl := NewRateLimiter(5, time.Minute)
		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow(), "call %d should be allowed", i)
		}
		assert.False(t, rl.Allow(), "sixth call should be throttled")
	})

	t.Run("a rolling window never grants more than max calls", func(t *testing.T) {
		rl := NewRateLimiter(5, 300*time.Millisecond)
		granted := 0
		deadline := time.Now().Add(250 * time.Millisecond)
		for time.Now().Before(deadline) {
			if rl.Allow() {
				granted++
			}
		}
		// The burst empties the allowance up front; nothing more may
		// be granted until a full window has passed.
		assert.Equal(t, 5, granted)
	})

	t.Run("slots free once the window slides past old grants", func(t *testing.T) {
		rl := NewRateLimiter(2, 50*time.Millisecond)
		require.True(t, rl.Allow())
		require.True(t, rl.Allow())
		require.False(t, rl.Allow())

		time.Sleep(60 * time.Millisecond)
		assert.True(t, rl.Allow())
	})

	t.Run("wait respects context cancellation", func(t *testing.T) {
		rl := NewRateLimiter(1, time.Minute)
		require.NoError(t, rl.Wait(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := rl.Wait(ctx)
		assert.Error(t, err)
	})
}

func TestCircuitBreaker(t *testing.T) {
	boom := errors.New("boom")

	t.Run("opens after threshold consecutive failures", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 5, time.Minute)
		for i := 0; i < 5; i++ {
			err := cb.Execute(func() error { return boom })
			require.ErrorIs(t, err, boom)
		}
		assert.Equal(t, "open", cb.State())

		calls := 0
		err := cb.Execute(func() error { calls++; return nil })
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Zero(t, calls, "open breaker must not invoke the call")
	})

	t.Run("success resets the failure streak", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 3, time.Minute)
		for i := 0; i < 2; i++ {
			_ = cb.Execute(func() error { return boom })
		}
		require.NoError(t, cb.Execute(func() error { return nil }))
		for i := 0; i < 2; i++ {
			_ = cb.Execute(func() error { return boom })
		}
		assert.Equal(t, "closed", cb.State())
	})

	t.Run("half-open probe closes on success", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 2, 20*time.Millisecond)
		for i := 0; i < 2; i++ {
			_ = cb.Execute(func() error { return boom })
		}
		require.Equal(t, "open", cb.State())

		time.Sleep(30 * time.Millisecond)
		err := cb.Execute(func() error { return nil })
		require.NoError(t, err)
		assert.Equal(t, "closed", cb.State())
	})

	t.Run("half-open probe reopens on failure", func(t *testing.T) {
		cb := NewCircuitBreaker("test", 2, 20*time.Millisecond)
		for i := 0; i < 2; i++ {
			_ = cb.Execute(func() error { return boom })
		}
		time.Sleep(30 * time.Millisecond)
		_ = cb.Execute(func() error { return boom })
		assert.Equal(t, "open", cb.State())
	})
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient errors until success", func(t *testing.T) {
		p := NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond, transientOnly)
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent errors abort on the first attempt", func(t *testing.T) {
		p := NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond, transientOnly)
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			return errPermanent
		})
		assert.ErrorIs(t, err, errPermanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhausted budget wraps ErrMaxRetries", func(t *testing.T) {
		p := NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond, transientOnly)
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.Equal(t, 3, calls)
	})

	t.Run("open circuit is never retried", func(t *testing.T) {
		p := NewRetryPolicy(5, time.Millisecond, 5*time.Millisecond, nil)
		calls := 0
		err := p.Do(ctx, func() error {
			calls++
			return ErrCircuitOpen
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Equal(t, 1, calls)
	})
}

func TestPolicy(t *testing.T) {
	cfg := Config{
		MaxCallsPerWindow: 100,
		Window:            time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   time.Minute,
		MaxRetries:        5,
		RetryBaseInterval: time.Millisecond,
		RetryMaxInterval:  5 * time.Millisecond,
	}

	t.Run("persistent connection failures trip the breaker", func(t *testing.T) {
		p := NewPolicy("rpc", cfg, transientOnly)
		calls := 0
		err := p.Execute(context.Background(), func(context.Context) error {
			calls++
			return errTransient
		})
		require.ErrorIs(t, err, ErrMaxRetries)
		require.Equal(t, 5, calls)
		require.Equal(t, "open", p.BreakerState())

		// Breaker is open now: the next call fails fast without
		// reaching the endpoint.
		calls = 0
		start := time.Now()
		err = p.Execute(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, ErrCircuitOpen)
		assert.Zero(t, calls)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("healthy endpoint passes straight through", func(t *testing.T) {
		p := NewPolicy("rpc", cfg, transientOnly)
		calls := 0
		err := p.Execute(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}
