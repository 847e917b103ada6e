package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ---------------------------------------------------------------------------
// Circuit Breaker
// ---------------------------------------------------------------------------

// ErrCircuitOpen is returned while the breaker is open and calls fail
// fast without touching the endpoint.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// CircuitBreaker trips after failureThreshold consecutive failures and
// fails fast for recoveryTimeout, then lets a probe through (half-open).
// A successful probe closes the circuit; a failed one reopens it.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a breaker named for the endpoint it guards.
func NewCircuitBreaker(name string, failureThreshold uint32, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("resilience: breaker state change")
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. When open it returns
// ErrCircuitOpen immediately.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State returns the breaker's current state as a string (closed, open,
// half-open).
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}
