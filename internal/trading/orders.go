package trading

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Trade types
// ---------------------------------------------------------------------------

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeResult is the record of an executed (mined) trade.
type TradeResult struct {
	ID     string        `json:"id"`
	Side   Side          `json:"side"`
	Token  chain.Address `json:"token"`
	Pair   chain.Address `json:"pair"`
	TxHash chain.TxHash  `json:"tx_hash"`

	// AmountIn is what was spent: wei for buys, raw token units for
	// sells. AmountOut is the quoted output at submission time;
	// MinAmountOut is the revert floor the router enforced.
	AmountIn     decimal.Decimal `json:"amount_in"`
	AmountOut    decimal.Decimal `json:"amount_out"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`

	GasUsed    uint64          `json:"gas_used"`
	GasPrice   decimal.Decimal `json:"gas_price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func newTradeResult(side Side, token, pair chain.Address) *TradeResult {
	return &TradeResult{
		ID:         uuid.NewString(),
		Side:       side,
		Token:      token,
		Pair:       pair,
		ExecutedAt: time.Now(),
	}
}
