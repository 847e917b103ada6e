package resilience

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// Policy — limiter, breaker and retry composed into one call path
// ---------------------------------------------------------------------------

// Config tunes the resilience layer around an endpoint.
type Config struct {
	MaxCallsPerWindow int           `yaml:"max_calls_per_window"`
	Window            time.Duration `yaml:"window"`
	FailureThreshold  uint32        `yaml:"failure_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseInterval time.Duration `yaml:"retry_base_interval"`
	RetryMaxInterval  time.Duration `yaml:"retry_max_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxCallsPerWindow: 25,
		Window:            time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		MaxRetries:        3,
		RetryBaseInterval: 200 * time.Millisecond,
		RetryMaxInterval:  5 * time.Second,
	}
}

// Policy runs every outbound call through the same gauntlet: wait for a
// rate-limit slot, pass the circuit breaker, retry transient failures.
// The retry loop sits outermost so each attempt takes a fresh limiter
// slot and counts against the breaker individually.
type Policy struct {
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   *RetryPolicy
}

// NewPolicy wires the three layers from cfg. isTransient classifies
// errors for the retry loop.
func NewPolicy(name string, cfg Config, isTransient func(error) bool) *Policy {
	return &Policy{
		limiter: NewRateLimiter(cfg.MaxCallsPerWindow, cfg.Window),
		breaker: NewCircuitBreaker(name, cfg.FailureThreshold, cfg.RecoveryTimeout),
		retry:   NewRetryPolicy(cfg.MaxRetries, cfg.RetryBaseInterval, cfg.RetryMaxInterval, isTransient),
	}
}

// Execute runs fn under the full policy.
func (p *Policy) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.retry.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		return p.breaker.Execute(func() error {
			return fn(ctx)
		})
	})
}

// ExecuteOnce runs fn through the limiter and breaker but skips the
// retry loop. For non-idempotent calls like transaction broadcast.
func (p *Policy) ExecuteOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.breaker.Execute(func() error {
		return fn(ctx)
	})
}

// BreakerState exposes the breaker state for health reporting.
func (p *Policy) BreakerState() string {
	return p.breaker.State()
}
