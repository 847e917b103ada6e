package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/resilience"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t,
		Address("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
		NormalizeAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"))
}

func TestCalldataBuilders(t *testing.T) {
	weth := NormalizeAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	token := NormalizeAddress("0x1111111111111111111111111111111111111111")
	wallet := NormalizeAddress("0x2222222222222222222222222222222222222222")

	t.Run("balanceOf", func(t *testing.T) {
		data := CalldataBalanceOf(wallet)
		assert.True(t, strings.HasPrefix(data, selBalanceOf))
		assert.Len(t, data, 10+64)
		assert.True(t, strings.HasSuffix(data, strings.TrimPrefix(string(wallet), "0x")))
	})

	t.Run("swapExactETHForTokens", func(t *testing.T) {
		minOut := decimal.NewFromInt(1000)
		data := CalldataSwapETHForTokens(minOut, []Address{weth, token}, wallet, 1700000000)
		require.True(t, strings.HasPrefix(data, selSwapETHForTokens))
		// selector + 4 head words + length word + 2 path elements.
		assert.Len(t, data, 10+7*64)
		// Path tail: length 2, then weth, then token.
		tail := data[10+4*64:]
		assert.Equal(t, encUint64(2), tail[:64])
		assert.Equal(t, encAddress(weth), tail[64:128])
		assert.Equal(t, encAddress(token), tail[128:192])
	})

	t.Run("swapExactTokensForETH", func(t *testing.T) {
		data := CalldataSwapTokensForETH(
			decimal.NewFromInt(500), decimal.NewFromInt(100),
			[]Address{token, weth}, wallet, 1700000000)
		require.True(t, strings.HasPrefix(data, selSwapTokensForETH))
		assert.Len(t, data, 10+8*64)
	})
}

func TestAmountsRoundTrip(t *testing.T) {
	in := []decimal.Decimal{
		decimal.NewFromInt(1_000_000),
		decimal.RequireFromString("987654321987654321"),
	}
	out, err := DecodeAmounts(EncodeAmounts(in))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, in[0].Equal(out[0]))
	assert.True(t, in[1].Equal(out[1]))
}

func TestDecodeString(t *testing.T) {
	// abi.encode("PEPE")
	payload := "0x" +
		encUint64(32) +
		encUint64(4) +
		"5045504500000000000000000000000000000000000000000000000000000000"
	assert.Equal(t, "PEPE", decodeString(payload))
	assert.Equal(t, "", decodeString("0x"))
}

func TestParsePairCreated(t *testing.T) {
	token0 := NormalizeAddress("0x1111111111111111111111111111111111111111")
	token1 := NormalizeAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	pair := NormalizeAddress("0x3333333333333333333333333333333333333333")

	t.Run("valid log decodes", func(t *testing.T) {
		l := rawLog{
			Topics: []string{
				TopicPairCreated,
				"0x" + encAddress(token0),
				"0x" + encAddress(token1),
			},
			Data:        "0x" + encAddress(pair) + encUint64(42),
			BlockNumber: "0x10",
		}
		ev, ok := parsePairCreated(l)
		require.True(t, ok)
		assert.Equal(t, pair, ev.PairAddress)
		assert.Equal(t, token0, ev.Token0)
		assert.Equal(t, token1, ev.Token1)
		assert.Equal(t, uint64(16), ev.BlockNumber)
	})

	t.Run("wrong topic rejected", func(t *testing.T) {
		l := rawLog{Topics: []string{"0xdeadbeef"}}
		_, ok := parsePairCreated(l)
		assert.False(t, ok)
	})
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(connErr("eth_call", assert.AnError)))
	assert.False(t, IsTransient(callErr("eth_call", assert.AnError)))
	assert.False(t, IsTransient(nil))
}

func TestRevertReason(t *testing.T) {
	err := callErr("eth_sendTransaction", assert.AnError)
	assert.Equal(t, "", RevertReason(err))

	err = callErr("eth_sendTransaction", errors.New("execution reverted: Slippage too high"))
	assert.Equal(t, RevertSlippage, RevertReason(err))
}

func TestGateway(t *testing.T) {
	cfg := resilience.Config{
		MaxCallsPerWindow: 100,
		Window:            time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   time.Minute,
		MaxRetries:        3,
		RetryBaseInterval: time.Millisecond,
		RetryMaxInterval:  5 * time.Millisecond,
	}
	token := NormalizeAddress("0x1111111111111111111111111111111111111111")

	t.Run("transient failure is retried to success", func(t *testing.T) {
		stub := NewStubClient()
		stub.AddToken(TokenInfo{Address: token, Symbol: "TKN", Decimals: 18, HasCode: true})
		stub.FailNext(connErr("TokenInfo", assert.AnError))

		gw := NewGateway(stub, cfg, nil)
		info, err := gw.TokenInfo(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "TKN", info.Symbol)
	})

	t.Run("contract error is not retried", func(t *testing.T) {
		stub := NewStubClient()
		gw := NewGateway(stub, cfg, nil)
		_, err := gw.TokenInfo(context.Background(), token)
		assert.ErrorIs(t, err, ErrContractCall)
	})

	t.Run("submit is never retried", func(t *testing.T) {
		stub := NewStubClient()
		stub.FailNext(connErr("Submit", assert.AnError))
		gw := NewGateway(stub, cfg, nil)
		_, err := gw.Submit(context.Background(), TxRequest{To: token, Data: "0x"})
		assert.ErrorIs(t, err, ErrConnection)
		assert.Empty(t, stub.Submitted())
	})

	t.Run("native balance passes through the policy", func(t *testing.T) {
		stub := NewStubClient()
		stub.SetETHBalance(token, decimal.New(2, 18))
		gw := NewGateway(stub, cfg, nil)
		bal, err := gw.Balance(context.Background(), token)
		require.NoError(t, err)
		assert.True(t, bal.Equal(decimal.New(2, 18)))
	})
}
