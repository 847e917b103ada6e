package store

import (
	"context"
	"errors"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// ---------------------------------------------------------------------------
// Persistence interfaces
// ---------------------------------------------------------------------------

var (
	// ErrNotFound means no record matched.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateKey means an insert hit an existing primary key.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// TradeStore is an append-only log of executed trades.
type TradeStore interface {
	InsertTrade(ctx context.Context, t trading.TradeResult) error
	TradesByToken(ctx context.Context, token chain.Address) ([]trading.TradeResult, error)
}

// PositionStore keeps position snapshots. SavePosition upserts by
// position ID, so repeated flushes of the same position are safe.
type PositionStore interface {
	SavePosition(ctx context.Context, p position.Position) error
	PositionsByToken(ctx context.Context, token chain.Address) ([]position.Position, error)
}

// Store bundles both collaborators behind one handle.
type Store interface {
	TradeStore
	PositionStore
	Close()
}
