package security

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

var (
	testRouter = chain.NormalizeAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	testWETH   = chain.NormalizeAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	testWallet = chain.NormalizeAddress("0x9999999999999999999999999999999999999999")
	testToken  = chain.NormalizeAddress("0x1111111111111111111111111111111111111111")
	testPair   = chain.NormalizeAddress("0x3333333333333333333333333333333333333333")
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func e18(s string) decimal.Decimal { return d(s).Shift(18) }

// seedCleanToken makes the stub describe a token that passes all four
// checks: code + metadata, renounced owner, 90% of LP burned, honest
// sell simulation.
func seedCleanToken(stub *chain.StubClient) {
	stub.AddToken(chain.TokenInfo{
		Address: testToken, Name: "Pepe", Symbol: "PEPE", Decimals: 18,
		TotalSupply: e18("1000000"), HasCode: true, Verified: true,
	})
	stub.AddToken(chain.TokenInfo{
		Address: testPair, Symbol: "UNI-V2", Decimals: 18,
		TotalSupply: e18("1000"), HasCode: true,
	})
	stub.SetBalance(testPair, chain.DeadAddress, e18("900"))
	stub.SetReserves(chain.PairReserves{
		Pair:         testPair,
		Token:        testToken,
		TokenReserve: e18("10000"),
		BaseReserve:  e18("10"),
	})
	stub.SimulateFn = honestSellSim
}

// honestSellSim answers the sell probe with the fair constant-product
// output, as a healthy token would.
func honestSellSim(tx chain.TxRequest) (string, error) {
	probe := decimal.New(1, 16)
	bought := trading.AmountOut(probe, e18("10"), e18("10000"))
	fair := trading.AmountOut(bought, e18("10000").Sub(bought), e18("10").Add(probe))
	return chain.EncodeAmounts([]decimal.Decimal{bought, fair}), nil
}

func newTestValidator(stub *chain.StubClient, cfg Config) *Validator {
	return NewValidator(stub, testRouter, testWETH, testWallet, cfg)
}

func TestValidator(t *testing.T) {
	ctx := context.Background()

	t.Run("clean token passes with full score", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		v := newTestValidator(stub, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		assert.True(t, report.Passed)
		assert.False(t, report.Honeypot)
		assert.Equal(t, 100.0, report.Score)
		assert.Len(t, report.Checks, 4)
	})

	t.Run("reverting sell simulation marks a honeypot", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		stub.SimulateFn = func(tx chain.TxRequest) (string, error) {
			return "", fmt.Errorf("%w: eth_call: execution reverted", chain.ErrContractCall)
		}
		v := newTestValidator(stub, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		assert.True(t, report.Honeypot)
		assert.False(t, report.Passed)
		assert.Equal(t, "honeypot", report.Reason())
	})

	t.Run("excessive sell tax marks a honeypot", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		stub.SimulateFn = func(tx chain.TxRequest) (string, error) {
			honest, _ := honestSellSim(tx)
			amounts, err := chain.DecodeAmounts(honest)
			require.NoError(t, err)
			// Token keeps half of the proceeds.
			taxed := amounts[1].Div(d("2")).Floor()
			return chain.EncodeAmounts([]decimal.Decimal{amounts[0], taxed}), nil
		}
		v := newTestValidator(stub, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		assert.True(t, report.Honeypot)
		assert.False(t, report.Passed)
	})

	t.Run("unlocked liquidity costs its penalty", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		stub.SetBalance(testPair, chain.DeadAddress, e18("100")) // 10% locked
		v := newTestValidator(stub, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		assert.Equal(t, 70.0, report.Score)
		assert.True(t, report.Passed, "70 meets the default threshold")
	})

	t.Run("active owner and unverified code push below threshold", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		stub.AddToken(chain.TokenInfo{
			Address: testToken, Symbol: "PEPE", Decimals: 18,
			TotalSupply: e18("1000000"), HasCode: true, Verified: false,
			Owner: chain.NormalizeAddress("0x4444444444444444444444444444444444444444"),
		})
		v := newTestValidator(stub, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		assert.Equal(t, 65.0, report.Score)
		assert.False(t, report.Passed)
		assert.Equal(t, "score_below_threshold", report.Reason())
	})

	t.Run("blacklisted token is rejected outright", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		cfg := DefaultConfig()
		cfg.Blacklist = []string{string(testToken)}
		v := newTestValidator(stub, cfg)

		report := v.Validate(ctx, testToken, testPair)
		assert.True(t, report.Blacklisted)
		assert.False(t, report.Passed)
	})

	t.Run("one failing check degrades to unknown without aborting the rest", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		// Liquidity check cannot read the LP contract.
		stub.AddToken(chain.TokenInfo{Address: testToken, Symbol: "PEPE", Decimals: 18,
			TotalSupply: e18("1000000"), HasCode: true, Verified: true})
		v := NewValidator(brokenLPClient{stub}, testRouter, testWETH, testWallet, DefaultConfig())

		report := v.Validate(ctx, testToken, testPair)
		require.Len(t, report.Checks, 4)
		var unknownCount int
		for _, c := range report.Checks {
			if c.Status == StatusUnknown {
				unknownCount++
				assert.Equal(t, CheckLiquidity, c.Name)
				assert.Equal(t, penaltyLiquidityUnlocked*penaltyUnknownFactor, c.Penalty)
			}
		}
		assert.Equal(t, 1, unknownCount)
		assert.Equal(t, 85.0, report.Score)
		assert.True(t, report.Passed)
	})

	t.Run("evaluation is idempotent per token", func(t *testing.T) {
		stub := chain.NewStubClient()
		seedCleanToken(stub)
		v := newTestValidator(stub, DefaultConfig())

		first := v.Validate(ctx, testToken, testPair)
		require.True(t, first.Passed)

		// The chain now says honeypot, but the cached report stands.
		stub.SimulateFn = func(tx chain.TxRequest) (string, error) {
			return "", fmt.Errorf("%w: execution reverted", chain.ErrContractCall)
		}
		second := v.Validate(ctx, testToken, testPair)
		assert.Same(t, first, second)
		assert.Equal(t, int64(1), v.Stats().Evaluated)
	})
}

// brokenLPClient fails TokenInfo for the pair address only.
type brokenLPClient struct {
	*chain.StubClient
}

func (b brokenLPClient) TokenInfo(ctx context.Context, token chain.Address) (*chain.TokenInfo, error) {
	if token == testPair {
		return nil, fmt.Errorf("%w: TokenInfo: node gone", chain.ErrConnection)
	}
	return b.StubClient.TokenInfo(ctx, token)
}
