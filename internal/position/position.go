package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Position model
// ---------------------------------------------------------------------------

// State is a position's lifecycle stage. Legal transitions:
// Open -> Monitoring -> Closing -> Closed, with Closing -> Monitoring
// when a sell attempt fails.
type State string

const (
	StateOpen       State = "open"
	StateMonitoring State = "monitoring"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// Exit reasons recorded on close.
const (
	ExitProfitTarget = "profit_target"
	ExitStopLoss     = "stop_loss"
	ExitMaxHold      = "max_hold"
	ExitManual       = "manual"
	ExitEmergency    = "emergency"
)

// Position is one holding of a sniped token.
type Position struct {
	ID    string        `json:"id"`
	Token chain.Address `json:"token"`
	Pair  chain.Address `json:"pair"`
	State State         `json:"state"`

	// Amount is tokens held in raw units; CostWei is the ETH spent.
	Amount  decimal.Decimal `json:"amount"`
	CostWei decimal.Decimal `json:"cost_wei"`

	// EntryPrice and CurrentPrice are WETH per token.
	EntryPrice   decimal.Decimal `json:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	PnLPct       decimal.Decimal `json:"pnl_pct"`

	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`

	EntryTx chain.TxHash `json:"entry_tx"`
	ExitTx  chain.TxHash `json:"exit_tx,omitempty"`

	// ExitReason is set when the close trigger fires, before the sell
	// lands.
	ExitReason string `json:"exit_reason,omitempty"`

	// ProceedsWei is the quoted ETH received on exit.
	ProceedsWei decimal.Decimal `json:"proceeds_wei,omitempty"`

	// SellAttempts counts failed close attempts.
	SellAttempts int `json:"sell_attempts,omitempty"`
}

func newPosition(token, pair chain.Address, amount, costWei, entryPrice decimal.Decimal, entryTx chain.TxHash) *Position {
	return &Position{
		ID:           uuid.NewString(),
		Token:        token,
		Pair:         pair,
		State:        StateOpen,
		Amount:       amount,
		CostWei:      costWei,
		EntryPrice:   entryPrice,
		CurrentPrice: entryPrice,
		OpenedAt:     time.Now(),
		EntryTx:      entryTx,
	}
}

// updatePnL recomputes PnLPct from a fresh price.
func (p *Position) updatePnL(price decimal.Decimal) {
	p.CurrentPrice = price
	if p.EntryPrice.IsPositive() {
		p.PnLPct = price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}
}

// clone returns a copy safe to hand outside the tracker's lock.
func (p *Position) clone() *Position {
	cp := *p
	return &cp
}
