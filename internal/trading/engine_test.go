package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

var (
	testRouter = chain.NormalizeAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	testWETH   = chain.NormalizeAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	testWallet = chain.NormalizeAddress("0x9999999999999999999999999999999999999999")
	testToken  = chain.NormalizeAddress("0x1111111111111111111111111111111111111111")
	testPair   = chain.NormalizeAddress("0x3333333333333333333333333333333333333333")
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Router = testRouter
	cfg.WETH = testWETH
	cfg.Wallet = testWallet
	return cfg
}

// e18 scales a human amount to raw 18-decimal units.
func e18(s string) decimal.Decimal { return d(s).Shift(18) }

func seedPool(stub *chain.StubClient) {
	stub.SetReserves(chain.PairReserves{
		Pair:         testPair,
		Token:        testToken,
		TokenReserve: e18("10000"),
		BaseReserve:  e18("10"),
	})
}

type stubGuard struct{ err error }

func (g stubGuard) CanOpen(chain.Address) error { return g.err }

func TestEngineBuy(t *testing.T) {
	ctx := context.Background()

	t.Run("successful buy submits a router swap", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		engine := NewEngine(stub, testConfig(), nil)

		result, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		require.NoError(t, err)

		assert.Equal(t, SideBuy, result.Side)
		wantQuote := AmountOut(e18("1"), e18("10"), e18("10000"))
		assert.True(t, result.AmountOut.Equal(wantQuote), "quote %s", result.AmountOut)
		// About 906 tokens out of the 10 WETH / 10000 TKN pool.
		assert.True(t, result.AmountOut.GreaterThan(e18("906")))
		assert.True(t, result.AmountOut.LessThan(e18("907")))
		assert.True(t, result.MinAmountOut.Equal(MinAmountOut(wantQuote, d("5"))),
			"min out %s", result.MinAmountOut)
		assert.NotEmpty(t, result.TxHash)

		subs := stub.Submitted()
		require.Len(t, subs, 1)
		assert.Equal(t, testRouter, subs[0].To)
		assert.True(t, subs[0].Value.Equal(e18("1")))
		assert.True(t, strings.HasPrefix(subs[0].Data, "0x7ff36ab5"))
		// 20 gwei network price scaled by 1.5.
		assert.True(t, subs[0].GasPrice.Equal(d("30000000000")), "gas price %s", subs[0].GasPrice)
		// 150k estimate padded 20%.
		assert.Equal(t, uint64(180_000), subs[0].GasLimit)
	})

	t.Run("gas above ceiling defers the trade", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		cfg := testConfig()
		cfg.MaxGasPrice = d("25000000000") // scaled price is 30 gwei
		engine := NewEngine(stub, cfg, nil)

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		assert.ErrorIs(t, err, ErrGasTooHigh)
		assert.Empty(t, stub.Submitted())
		assert.Equal(t, int64(1), engine.Stats().Deferred)
	})

	t.Run("estimation failure falls back to the static limit", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetGasEstimate(0, errors.New("always failing"))
		engine := NewEngine(stub, testConfig(), nil)

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		require.NoError(t, err)
		subs := stub.Submitted()
		require.Len(t, subs, 1)
		assert.Equal(t, uint64(300_000), subs[0].GasLimit)
	})

	t.Run("duplicate position is rejected before any chain call", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		guard := stubGuard{err: fmt.Errorf("%w: %s", ErrDuplicatePosition, testToken)}
		engine := NewEngine(stub, testConfig(), guard)

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		assert.ErrorIs(t, err, ErrDuplicatePosition)
		assert.Empty(t, stub.Submitted())
	})

	t.Run("full position book is rejected before any chain call", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		errFull := errors.New("position: max open positions reached")
		engine := NewEngine(stub, testConfig(), stubGuard{err: errFull})

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		assert.ErrorIs(t, err, errFull)
		assert.Empty(t, stub.Submitted(), "no wei may move when the book is full")
	})

	t.Run("slippage revert maps to ErrSlippageExceeded", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetSubmitError(fmt.Errorf("%w: eth_sendTransaction: execution reverted: Slippage too high", chain.ErrContractCall))
		engine := NewEngine(stub, testConfig(), nil)

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		assert.ErrorIs(t, err, ErrSlippageExceeded)
	})

	t.Run("failed receipt maps to ErrTradeExecution", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetReceiptSuccess(false)
		engine := NewEngine(stub, testConfig(), nil)

		_, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		assert.ErrorIs(t, err, ErrTradeExecution)
	})

	t.Run("failed receipt still reports the submitted hash", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetReceiptSuccess(false)
		engine := NewEngine(stub, testConfig(), nil)

		result, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		require.Error(t, err)
		require.NotNil(t, result, "a submitted trade must surface its result")
		assert.NotEmpty(t, result.TxHash)
		assert.False(t, result.ExecutedAt.IsZero())
	})
}

func TestEngineSell(t *testing.T) {
	ctx := context.Background()

	t.Run("sell approves then swaps", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetBalance(testToken, testWallet, e18("906"))
		engine := NewEngine(stub, testConfig(), nil)

		result, err := engine.Sell(ctx, testToken, testPair, e18("906"))
		require.NoError(t, err)
		assert.Equal(t, SideSell, result.Side)

		subs := stub.Submitted()
		require.Len(t, subs, 2)
		assert.Equal(t, testToken, subs[0].To, "first tx approves the token")
		assert.True(t, strings.HasPrefix(subs[0].Data, "0x095ea7b3"))
		assert.Equal(t, testRouter, subs[1].To, "second tx swaps")
		assert.True(t, strings.HasPrefix(subs[1].Data, "0x18cbafe5"))
	})

	t.Run("sell is clamped to the wallet balance", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		// A 10% transfer tax left the wallet short of the buy quote.
		stub.SetBalance(testToken, testWallet, e18("815"))
		engine := NewEngine(stub, testConfig(), nil)

		result, err := engine.Sell(ctx, testToken, testPair, e18("906"))
		require.NoError(t, err)
		assert.True(t, result.AmountIn.Equal(e18("815")), "amount in %s", result.AmountIn)
	})

	t.Run("empty wallet balance fails the sell", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		engine := NewEngine(stub, testConfig(), nil)

		_, err := engine.Sell(ctx, testToken, testPair, e18("906"))
		assert.ErrorIs(t, err, ErrTradeExecution)
		assert.Empty(t, stub.Submitted())
	})

	t.Run("round trip stays within the slippage bound", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		engine := NewEngine(stub, testConfig(), nil)

		buy, err := engine.Buy(ctx, testToken, testPair, e18("1"))
		require.NoError(t, err)

		// The buy moved the pool and credited the wallet.
		stub.SetBalance(testToken, testWallet, buy.AmountOut)
		stub.SetReserves(chain.PairReserves{
			Pair:         testPair,
			Token:        testToken,
			TokenReserve: e18("10000").Sub(buy.AmountOut),
			BaseReserve:  e18("10").Add(e18("1")),
		})

		sell, err := engine.Sell(ctx, testToken, testPair, buy.AmountOut)
		require.NoError(t, err)

		// Two 0.3% fee legs cost about 0.6%; anything below 0.98 ETH
		// back would mean broken math.
		assert.True(t, sell.AmountOut.GreaterThan(e18("0.98")), "round trip returned %s", sell.AmountOut)
	})
}

func TestEngineEmergencySell(t *testing.T) {
	ctx := context.Background()

	t.Run("sells the full wallet balance with widened slippage", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		stub.SetBalance(testToken, testWallet, e18("500"))
		engine := NewEngine(stub, testConfig(), nil)

		result, err := engine.EmergencySell(ctx, testToken, testPair)
		require.NoError(t, err)
		assert.True(t, result.AmountIn.Equal(e18("500")))
		// 50% emergency slippage: floor(quote/2).
		expected := result.AmountOut.Div(d("2")).Floor()
		assert.True(t, result.MinAmountOut.Equal(expected),
			"min %s vs expected %s", result.MinAmountOut, expected)
	})

	t.Run("empty balance is an error", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedPool(stub)
		engine := NewEngine(stub, testConfig(), nil)

		_, err := engine.EmergencySell(ctx, testToken, testPair)
		assert.ErrorIs(t, err, ErrTradeExecution)
	})
}
