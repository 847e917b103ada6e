package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/resilience"
)

// ---------------------------------------------------------------------------
// Gateway — the resilience-wrapped Client every component talks to
// ---------------------------------------------------------------------------

// Observer receives per-call telemetry from the gateway. The
// observability package supplies the Prometheus-backed implementation.
type Observer interface {
	ObserveRPC(method string, elapsed time.Duration, err error)
}

// Gateway wraps a Client so every call passes the shared rate limiter,
// circuit breaker and retry policy. Gateway itself implements Client,
// so callers cannot tell it apart from a bare client.
type Gateway struct {
	inner    Client
	policy   *resilience.Policy
	observer Observer
}

// NewGateway wires a client behind the resilience policy. observer may
// be nil.
func NewGateway(inner Client, cfg resilience.Config, observer Observer) *Gateway {
	return &Gateway{
		inner:    inner,
		policy:   resilience.NewPolicy("chain", cfg, IsTransient),
		observer: observer,
	}
}

// execute runs fn under the policy and reports telemetry.
func (g *Gateway) execute(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := g.policy.Execute(ctx, fn)
	if g.observer != nil {
		g.observer.ObserveRPC(method, time.Since(start), err)
	}
	return err
}

// BreakerState exposes the breaker state for health reporting.
func (g *Gateway) BreakerState() string {
	return g.policy.BreakerState()
}

func (g *Gateway) LatestBlock(ctx context.Context) (uint64, error) {
	var out uint64
	err := g.execute(ctx, "LatestBlock", func(ctx context.Context) error {
		var err error
		out, err = g.inner.LatestBlock(ctx)
		return err
	})
	return out, err
}

func (g *Gateway) TokenInfo(ctx context.Context, token Address) (*TokenInfo, error) {
	var out *TokenInfo
	err := g.execute(ctx, "TokenInfo", func(ctx context.Context) error {
		var err error
		out, err = g.inner.TokenInfo(ctx, token)
		return err
	})
	return out, err
}

func (g *Gateway) PairReserves(ctx context.Context, pair, token Address) (*PairReserves, error) {
	var out *PairReserves
	err := g.execute(ctx, "PairReserves", func(ctx context.Context) error {
		var err error
		out, err = g.inner.PairReserves(ctx, pair, token)
		return err
	})
	return out, err
}

func (g *Gateway) TokenBalance(ctx context.Context, token, holder Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := g.execute(ctx, "TokenBalance", func(ctx context.Context) error {
		var err error
		out, err = g.inner.TokenBalance(ctx, token, holder)
		return err
	})
	return out, err
}

func (g *Gateway) Balance(ctx context.Context, addr Address) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := g.execute(ctx, "Balance", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Balance(ctx, addr)
		return err
	})
	return out, err
}

func (g *Gateway) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := g.execute(ctx, "GasPrice", func(ctx context.Context) error {
		var err error
		out, err = g.inner.GasPrice(ctx)
		return err
	})
	return out, err
}

func (g *Gateway) EstimateGas(ctx context.Context, tx TxRequest) (uint64, error) {
	var out uint64
	err := g.execute(ctx, "EstimateGas", func(ctx context.Context) error {
		var err error
		out, err = g.inner.EstimateGas(ctx, tx)
		return err
	})
	return out, err
}

func (g *Gateway) Code(ctx context.Context, addr Address) (string, error) {
	var out string
	err := g.execute(ctx, "Code", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Code(ctx, addr)
		return err
	})
	return out, err
}

func (g *Gateway) CallSimulated(ctx context.Context, tx TxRequest) (string, error) {
	var out string
	err := g.execute(ctx, "CallSimulated", func(ctx context.Context) error {
		var err error
		out, err = g.inner.CallSimulated(ctx, tx)
		return err
	})
	return out, err
}

// Submit passes the breaker and limiter but never retries: a timeout
// on broadcast does not prove the transaction was dropped, and a blind
// retry risks a double spend.
func (g *Gateway) Submit(ctx context.Context, tx TxRequest) (TxHash, error) {
	var out TxHash
	start := time.Now()
	err := g.policy.ExecuteOnce(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Submit(ctx, tx)
		return err
	})
	if g.observer != nil {
		g.observer.ObserveRPC("Submit", time.Since(start), err)
	}
	return out, err
}

func (g *Gateway) WaitForReceipt(ctx context.Context, hash TxHash) (*Receipt, error) {
	var out *Receipt
	err := g.execute(ctx, "WaitForReceipt", func(ctx context.Context) error {
		var err error
		out, err = g.inner.WaitForReceipt(ctx, hash)
		return err
	})
	return out, err
}

// SubscribePairs bypasses the per-call policy: the stream has its own
// reconnect handling.
func (g *Gateway) SubscribePairs(ctx context.Context, factory Address) (<-chan PairEvent, error) {
	return g.inner.SubscribePairs(ctx, factory)
}

func (g *Gateway) Health(ctx context.Context) error {
	return g.inner.Health(ctx)
}

func (g *Gateway) Close() {
	g.inner.Close()
}
