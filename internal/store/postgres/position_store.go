package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/store"
)

// PositionStore implements store.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ store.PositionStore = (*PositionStore)(nil)

// SavePosition upserts a position snapshot by ID.
func (s *PositionStore) SavePosition(ctx context.Context, p position.Position) error {
	const query = `
		INSERT INTO positions (
			position_id, token, pair, state,
			amount, cost_wei, entry_price, current_price, pnl_pct,
			opened_at, closed_at, entry_tx, exit_tx, exit_reason,
			proceeds_wei, sell_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (position_id) DO UPDATE SET
			state         = EXCLUDED.state,
			amount        = EXCLUDED.amount,
			current_price = EXCLUDED.current_price,
			pnl_pct       = EXCLUDED.pnl_pct,
			closed_at     = EXCLUDED.closed_at,
			exit_tx       = EXCLUDED.exit_tx,
			exit_reason   = EXCLUDED.exit_reason,
			proceeds_wei  = EXCLUDED.proceeds_wei,
			sell_attempts = EXCLUDED.sell_attempts
	`
	_, err := s.pool.Exec(ctx, query,
		p.ID, string(p.Token), string(p.Pair), string(p.State),
		p.Amount.String(), p.CostWei.String(),
		p.EntryPrice.String(), p.CurrentPrice.String(), p.PnLPct.String(),
		p.OpenedAt, nullableTime(p.ClosedAt),
		string(p.EntryTx), string(p.ExitTx), p.ExitReason,
		p.ProceedsWei.String(), p.SellAttempts,
	)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// PositionsByToken returns position snapshots for a token.
func (s *PositionStore) PositionsByToken(ctx context.Context, token chain.Address) ([]position.Position, error) {
	const query = `
		SELECT
			position_id, token, pair, state,
			amount, cost_wei, entry_price, current_price, pnl_pct,
			opened_at, closed_at, entry_tx, exit_tx, exit_reason,
			proceeds_wei, sell_attempts
		FROM positions
		WHERE token = $1
		ORDER BY opened_at ASC
	`
	rows, err := s.pool.Query(ctx, query, string(token))
	if err != nil {
		return nil, fmt.Errorf("positions by token: %w", err)
	}
	defer rows.Close()

	var positions []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return positions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (position.Position, error) {
	var (
		p                        position.Position
		tok, pair, state         string
		entryTx, pnl             string
		exitTx, exitReason       *string
		amount, cost, entry, cur string
		proceeds                 *string
		closedAt                 *time.Time
	)
	if err := row.Scan(
		&p.ID, &tok, &pair, &state,
		&amount, &cost, &entry, &cur, &pnl,
		&p.OpenedAt, &closedAt, &entryTx, &exitTx, &exitReason,
		&proceeds, &p.SellAttempts,
	); err != nil {
		return position.Position{}, fmt.Errorf("scan position row: %w", err)
	}
	p.Token = chain.Address(tok)
	p.Pair = chain.Address(pair)
	p.State = position.State(state)
	p.EntryTx = chain.TxHash(entryTx)
	if exitTx != nil {
		p.ExitTx = chain.TxHash(*exitTx)
	}
	if exitReason != nil {
		p.ExitReason = *exitReason
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return position.Position{}, fmt.Errorf("parse amount: %w", err)
	}
	if p.CostWei, err = decimal.NewFromString(cost); err != nil {
		return position.Position{}, fmt.Errorf("parse cost_wei: %w", err)
	}
	if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return position.Position{}, fmt.Errorf("parse entry_price: %w", err)
	}
	if p.CurrentPrice, err = decimal.NewFromString(cur); err != nil {
		return position.Position{}, fmt.Errorf("parse current_price: %w", err)
	}
	if p.PnLPct, err = decimal.NewFromString(pnl); err != nil {
		return position.Position{}, fmt.Errorf("parse pnl_pct: %w", err)
	}
	if proceeds != nil {
		if p.ProceedsWei, err = decimal.NewFromString(*proceeds); err != nil {
			return position.Position{}, fmt.Errorf("parse proceeds_wei: %w", err)
		}
	}
	return p, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
