package store

import (
	"context"
	"sync"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// Memory is the non-persistent Store used in tests and when no
// database is configured.
type Memory struct {
	mu        sync.RWMutex
	trades    []trading.TradeResult
	tradeIDs  map[string]struct{}
	positions map[string]position.Position
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tradeIDs:  make(map[string]struct{}),
		positions: make(map[string]position.Position),
	}
}

var _ Store = (*Memory)(nil)

// InsertTrade appends a trade; duplicate IDs are rejected.
func (m *Memory) InsertTrade(ctx context.Context, t trading.TradeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.tradeIDs[t.ID]; dup {
		return ErrDuplicateKey
	}
	m.tradeIDs[t.ID] = struct{}{}
	m.trades = append(m.trades, t)
	return nil
}

// TradesByToken returns trades for a token in insertion order.
func (m *Memory) TradesByToken(ctx context.Context, token chain.Address) ([]trading.TradeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []trading.TradeResult
	for _, t := range m.trades {
		if t.Token == token {
			out = append(out, t)
		}
	}
	return out, nil
}

// SavePosition upserts a position snapshot by ID.
func (m *Memory) SavePosition(ctx context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
	return nil
}

// PositionsByToken returns snapshots for a token.
func (m *Memory) PositionsByToken(ctx context.Context, token chain.Address) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Position
	for _, p := range m.positions {
		if p.Token == token {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
