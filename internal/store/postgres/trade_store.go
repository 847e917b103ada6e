package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/store"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// TradeStore implements store.TradeStore using PostgreSQL. Amounts are
// stored as NUMERIC and travel as strings to keep full precision.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ store.TradeStore = (*TradeStore)(nil)

// InsertTrade appends a trade. Returns ErrDuplicateKey when the trade
// ID exists.
func (s *TradeStore) InsertTrade(ctx context.Context, t trading.TradeResult) error {
	const query = `
		INSERT INTO trades (
			trade_id, side, token, pair, tx_hash,
			amount_in, amount_out, min_amount_out,
			gas_used, gas_price, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, query,
		t.ID, string(t.Side), string(t.Token), string(t.Pair), string(t.TxHash),
		t.AmountIn.String(), t.AmountOut.String(), t.MinAmountOut.String(),
		t.GasUsed, t.GasPrice.String(), t.ExecutedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return store.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// TradesByToken returns trades for a token in execution order.
func (s *TradeStore) TradesByToken(ctx context.Context, token chain.Address) ([]trading.TradeResult, error) {
	const query = `
		SELECT
			trade_id, side, token, pair, tx_hash,
			amount_in, amount_out, min_amount_out,
			gas_used, gas_price, executed_at
		FROM trades
		WHERE token = $1
		ORDER BY executed_at ASC, trade_id ASC
	`
	rows, err := s.pool.Query(ctx, query, string(token))
	if err != nil {
		return nil, fmt.Errorf("trades by token: %w", err)
	}
	defer rows.Close()

	var trades []trading.TradeResult
	for rows.Next() {
		var (
			t                     trading.TradeResult
			side, tok, pair, hash string
			in, out, minOut, gas  string
		)
		if err := rows.Scan(
			&t.ID, &side, &tok, &pair, &hash,
			&in, &out, &minOut,
			&t.GasUsed, &gas, &t.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = trading.Side(side)
		t.Token = chain.Address(tok)
		t.Pair = chain.Address(pair)
		t.TxHash = chain.TxHash(hash)
		if t.AmountIn, err = decimal.NewFromString(in); err != nil {
			return nil, fmt.Errorf("parse amount_in: %w", err)
		}
		if t.AmountOut, err = decimal.NewFromString(out); err != nil {
			return nil, fmt.Errorf("parse amount_out: %w", err)
		}
		if t.MinAmountOut, err = decimal.NewFromString(minOut); err != nil {
			return nil, fmt.Errorf("parse min_amount_out: %w", err)
		}
		if t.GasPrice, err = decimal.NewFromString(gas); err != nil {
			return nil, fmt.Errorf("parse gas_price: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}
