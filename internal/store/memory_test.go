package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

var testToken = chain.NormalizeAddress("0x1111111111111111111111111111111111111111")

func TestMemoryTrades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	trade := trading.TradeResult{
		ID: "t1", Side: trading.SideBuy, Token: testToken,
		AmountIn: decimal.NewFromInt(1),
	}
	require.NoError(t, m.InsertTrade(ctx, trade))

	t.Run("duplicate id rejected", func(t *testing.T) {
		assert.ErrorIs(t, m.InsertTrade(ctx, trade), ErrDuplicateKey)
	})

	t.Run("query by token", func(t *testing.T) {
		got, err := m.TradesByToken(ctx, testToken)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "t1", got[0].ID)

		other, err := m.TradesByToken(ctx, chain.NormalizeAddress("0x2222222222222222222222222222222222222222"))
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestMemoryPositions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := position.Position{ID: "p1", Token: testToken, State: position.StateMonitoring}
	require.NoError(t, m.SavePosition(ctx, p))

	t.Run("save is an upsert", func(t *testing.T) {
		p.State = position.StateClosed
		require.NoError(t, m.SavePosition(ctx, p))
		got, err := m.PositionsByToken(ctx, testToken)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, position.StateClosed, got[0].State)
	})
}
