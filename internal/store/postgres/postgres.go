package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ---------------------------------------------------------------------------
// Postgres connection pool
// ---------------------------------------------------------------------------

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates and pings a Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// EnsureSchema creates the tables when missing.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS trades (
			trade_id       TEXT PRIMARY KEY,
			side           TEXT NOT NULL,
			token          TEXT NOT NULL,
			pair           TEXT NOT NULL,
			tx_hash        TEXT NOT NULL,
			amount_in      NUMERIC NOT NULL,
			amount_out     NUMERIC NOT NULL,
			min_amount_out NUMERIC NOT NULL,
			gas_used       BIGINT NOT NULL,
			gas_price      NUMERIC NOT NULL,
			executed_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS trades_token_idx ON trades (token, executed_at);

		CREATE TABLE IF NOT EXISTS positions (
			position_id  TEXT PRIMARY KEY,
			token        TEXT NOT NULL,
			pair         TEXT NOT NULL,
			state        TEXT NOT NULL,
			amount       NUMERIC NOT NULL,
			cost_wei     NUMERIC NOT NULL,
			entry_price  NUMERIC NOT NULL,
			current_price NUMERIC NOT NULL,
			pnl_pct      NUMERIC NOT NULL,
			opened_at    TIMESTAMPTZ NOT NULL,
			closed_at    TIMESTAMPTZ,
			entry_tx     TEXT NOT NULL,
			exit_tx      TEXT,
			exit_reason  TEXT,
			proceeds_wei NUMERIC,
			sell_attempts INT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS positions_token_idx ON positions (token, opened_at);
	`
	if _, err := p.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PostgreSQL error codes.
const pgErrUniqueViolation = "23505"

// isDuplicateKeyError checks for a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
