package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// ---------------------------------------------------------------------------
// Position Tracker — lifecycle, price polling and exit triggers
// ---------------------------------------------------------------------------

// ErrMaxPositions means the open-position cap is reached.
var ErrMaxPositions = errors.New("position: max open positions reached")

// ErrNotFound means no open position exists for the token.
var ErrNotFound = errors.New("position: no open position for token")

// Seller executes exits. The trading engine implements it.
type Seller interface {
	Sell(ctx context.Context, token, pair chain.Address, amount decimal.Decimal) (*trading.TradeResult, error)
	EmergencySell(ctx context.Context, token, pair chain.Address) (*trading.TradeResult, error)
}

// Store persists position snapshots. Saves are best-effort; a dead
// store never blocks an exit.
type Store interface {
	SavePosition(ctx context.Context, p Position) error
}

// Notifier receives closed-position events.
type Notifier interface {
	PositionClosed(p Position)
}

// Config tunes exit triggers and the poll loop.
type Config struct {
	// ProfitTargetPct closes when PnL rises to +N percent.
	ProfitTargetPct decimal.Decimal `yaml:"profit_target_pct"`
	// StopLossPct closes when PnL falls to -N percent.
	StopLossPct decimal.Decimal `yaml:"stop_loss_pct"`
	// MaxHold closes positions older than this regardless of PnL.
	// Zero disables the timed exit.
	MaxHold time.Duration `yaml:"max_hold"`

	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPositions int           `yaml:"max_positions"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ProfitTargetPct: decimal.NewFromInt(50),
		StopLossPct:     decimal.NewFromInt(10),
		MaxHold:         time.Hour,
		PollInterval:    5 * time.Second,
		MaxPositions:    5,
	}
}

// Tracker owns every position. All mutation happens behind its lock;
// snapshots handed out are copies.
type Tracker struct {
	client   chain.Client
	seller   Seller
	store    Store
	notifier Notifier
	config   Config

	mu     sync.RWMutex
	open   map[chain.Address]*Position
	closed []*Position

	// Stats.
	opened       atomic.Int64
	closedCount  atomic.Int64
	sellFailures atomic.Int64
}

// NewTracker creates a tracker. store and notifier may be nil.
func NewTracker(client chain.Client, seller Seller, store Store, notifier Notifier, config Config) *Tracker {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	return &Tracker{
		client:   client,
		seller:   seller,
		store:    store,
		notifier: notifier,
		config:   config,
		open:     make(map[chain.Address]*Position),
	}
}

// Open registers a new position from a filled buy.
func (t *Tracker) Open(token, pair chain.Address, amount, costWei, entryPrice decimal.Decimal, entryTx chain.TxHash) (*Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.open[token]; exists {
		return nil, fmt.Errorf("%w: %s", trading.ErrDuplicatePosition, token)
	}
	if t.config.MaxPositions > 0 && len(t.open) >= t.config.MaxPositions {
		return nil, fmt.Errorf("%w (%d)", ErrMaxPositions, t.config.MaxPositions)
	}

	pos := newPosition(token, pair, amount, costWei, entryPrice, entryTx)
	t.open[token] = pos
	t.opened.Add(1)

	log.Info().
		Str("position", pos.ID).
		Str("token", string(token)).
		Str("entry_price", entryPrice.String()).
		Str("amount", amount.String()).
		Msg("position: opened")
	return pos.clone(), nil
}

// CanOpen reports whether a buy for the token may proceed: the token
// has no live position and the cap has room. Satisfies the trading
// engine's guard, so both checks run before any wei is spent.
func (t *Tracker) CanOpen(token chain.Address) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.open[token]; ok {
		return fmt.Errorf("%w: %s", trading.ErrDuplicatePosition, token)
	}
	if t.config.MaxPositions > 0 && len(t.open) >= t.config.MaxPositions {
		return fmt.Errorf("%w (%d)", ErrMaxPositions, t.config.MaxPositions)
	}
	return nil
}

// HasOpen reports whether the token has a live position.
func (t *Tracker) HasOpen(token chain.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.open[token]
	return ok
}

// Get returns a snapshot of the token's open position.
func (t *Tracker) Get(token chain.Address) (*Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.open[token]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

// OpenCount returns the number of live positions.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.open)
}

// Closed returns snapshots of archived positions.
func (t *Tracker) Closed() []*Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Position, 0, len(t.closed))
	for _, p := range t.closed {
		out = append(out, p.clone())
	}
	return out
}

// Run polls prices until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()
	log.Info().Dur("interval", t.config.PollInterval).Msg("position: tracker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("position: tracker stopped")
			return
		case <-ticker.C:
			t.pollOnce(ctx)
		}
	}
}

// pollOnce refreshes every open position and fires due exits. One bad
// position never blocks the rest.
func (t *Tracker) pollOnce(ctx context.Context) {
	t.mu.RLock()
	tokens := make([]chain.Address, 0, len(t.open))
	for token := range t.open {
		tokens = append(tokens, token)
	}
	t.mu.RUnlock()

	for _, token := range tokens {
		if ctx.Err() != nil {
			return
		}
		t.refresh(ctx, token)
	}
}

// refresh updates one position's price and evaluates its triggers.
func (t *Tracker) refresh(ctx context.Context, token chain.Address) {
	t.mu.Lock()
	pos, ok := t.open[token]
	if !ok {
		t.mu.Unlock()
		return
	}
	if pos.State == StateOpen {
		pos.State = StateMonitoring
	}
	if pos.State != StateMonitoring {
		t.mu.Unlock()
		return
	}
	pair := pos.Pair
	t.mu.Unlock()

	reserves, err := t.client.PairReserves(ctx, pair, token)
	if err != nil {
		log.Warn().Err(err).Str("token", string(token)).Msg("position: price poll failed")
		return
	}
	price := reserves.Price()

	t.mu.Lock()
	pos, ok = t.open[token]
	if !ok || pos.State != StateMonitoring {
		t.mu.Unlock()
		return
	}
	pos.updatePnL(price)
	reason := t.dueExit(pos)
	if reason == "" {
		t.mu.Unlock()
		return
	}
	pos.State = StateClosing
	pos.ExitReason = reason
	t.mu.Unlock()

	log.Info().
		Str("position", pos.ID).
		Str("token", string(token)).
		Str("pnl_pct", pos.PnLPct.StringFixed(2)).
		Str("reason", reason).
		Msg("position: exit triggered")
	t.close(ctx, token)
}

// dueExit returns the exit reason a monitoring position has earned, or
// "". Caller holds the lock.
func (t *Tracker) dueExit(pos *Position) string {
	if t.config.ProfitTargetPct.IsPositive() && pos.PnLPct.GreaterThanOrEqual(t.config.ProfitTargetPct) {
		return ExitProfitTarget
	}
	if t.config.StopLossPct.IsPositive() && pos.PnLPct.LessThanOrEqual(t.config.StopLossPct.Neg()) {
		return ExitStopLoss
	}
	if t.config.MaxHold > 0 && time.Since(pos.OpenedAt) > t.config.MaxHold {
		return ExitMaxHold
	}
	return ""
}

// close sells the position. On failure the position returns to
// Monitoring and the next cycle retries.
func (t *Tracker) close(ctx context.Context, token chain.Address) {
	t.mu.RLock()
	pos, ok := t.open[token]
	if !ok || pos.State != StateClosing {
		t.mu.RUnlock()
		return
	}
	pair, amount := pos.Pair, pos.Amount
	t.mu.RUnlock()

	result, err := t.seller.Sell(ctx, token, pair, amount)

	t.mu.Lock()
	pos, ok = t.open[token]
	if !ok {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.sellFailures.Add(1)
		pos.State = StateMonitoring
		pos.SellAttempts++
		attempts := pos.SellAttempts
		id := pos.ID
		t.mu.Unlock()
		log.Warn().Err(err).
			Str("position", id).
			Int("attempts", attempts).
			Msg("position: sell failed, back to monitoring")
		return
	}

	pos.State = StateClosed
	pos.ClosedAt = time.Now()
	pos.ExitTx = result.TxHash
	pos.ProceedsWei = result.AmountOut
	delete(t.open, token)
	t.closed = append(t.closed, pos)
	t.closedCount.Add(1)
	snapshot := *pos
	t.mu.Unlock()

	log.Info().
		Str("position", snapshot.ID).
		Str("token", string(token)).
		Str("reason", snapshot.ExitReason).
		Str("pnl_pct", snapshot.PnLPct.StringFixed(2)).
		Str("proceeds_wei", snapshot.ProceedsWei.String()).
		Msg("position: closed")

	t.persist(ctx, snapshot)
	if t.notifier != nil {
		t.notifier.PositionClosed(snapshot)
	}
}

// CloseManual triggers an operator-initiated exit.
func (t *Tracker) CloseManual(ctx context.Context, token chain.Address) error {
	t.mu.Lock()
	pos, ok := t.open[token]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	if pos.State == StateClosing || pos.State == StateClosed {
		t.mu.Unlock()
		return nil
	}
	pos.State = StateClosing
	pos.ExitReason = ExitManual
	t.mu.Unlock()

	t.close(ctx, token)
	if t.HasOpen(token) {
		return fmt.Errorf("position: manual close of %s did not complete", token)
	}
	return nil
}

// EmergencyCloseAll dumps every open position with widened slippage.
// Positions whose sells still fail stay open and are reported.
func (t *Tracker) EmergencyCloseAll(ctx context.Context) []chain.Address {
	t.mu.Lock()
	tokens := make([]chain.Address, 0, len(t.open))
	for token, pos := range t.open {
		pos.State = StateClosing
		pos.ExitReason = ExitEmergency
		tokens = append(tokens, token)
	}
	t.mu.Unlock()

	var failed []chain.Address
	for _, token := range tokens {
		t.mu.RLock()
		pos, ok := t.open[token]
		if !ok {
			t.mu.RUnlock()
			continue
		}
		pair := pos.Pair
		t.mu.RUnlock()

		result, err := t.seller.EmergencySell(ctx, token, pair)
		t.mu.Lock()
		pos, ok = t.open[token]
		if !ok {
			t.mu.Unlock()
			continue
		}
		if err != nil {
			t.sellFailures.Add(1)
			pos.State = StateMonitoring
			pos.SellAttempts++
			failed = append(failed, token)
			t.mu.Unlock()
			log.Error().Err(err).Str("token", string(token)).Msg("position: emergency sell failed")
			continue
		}
		pos.State = StateClosed
		pos.ClosedAt = time.Now()
		pos.ExitTx = result.TxHash
		pos.ProceedsWei = result.AmountOut
		delete(t.open, token)
		t.closed = append(t.closed, pos)
		t.closedCount.Add(1)
		snapshot := *pos
		t.mu.Unlock()

		t.persist(ctx, snapshot)
		if t.notifier != nil {
			t.notifier.PositionClosed(snapshot)
		}
	}
	return failed
}

// Flush snapshots every position to the store. Called on shutdown
// after intake has stopped and in-flight trades have drained.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.RLock()
	snapshots := make([]Position, 0, len(t.open)+len(t.closed))
	for _, p := range t.open {
		snapshots = append(snapshots, *p)
	}
	for _, p := range t.closed {
		snapshots = append(snapshots, *p)
	}
	t.mu.RUnlock()

	for _, p := range snapshots {
		t.persist(ctx, p)
	}
	log.Info().Int("count", len(snapshots)).Msg("position: flushed")
}

func (t *Tracker) persist(ctx context.Context, p Position) {
	if t.store == nil {
		return
	}
	if err := t.store.SavePosition(ctx, p); err != nil {
		log.Warn().Err(err).Str("position", p.ID).Msg("position: persist failed")
	}
}

// Stats is a snapshot of tracker counters.
type Stats struct {
	Open         int   `json:"open"`
	Opened       int64 `json:"opened"`
	Closed       int64 `json:"closed"`
	SellFailures int64 `json:"sell_failures"`
}

// Stats returns tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Open:         t.OpenCount(),
		Opened:       t.opened.Load(),
		Closed:       t.closedCount.Load(),
		SellFailures: t.sellFailures.Load(),
	}
}
