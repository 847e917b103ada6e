package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Minimal ABI encoding — just the handful of calls the bot makes
// ---------------------------------------------------------------------------

// 4-byte function selectors (keccak256 of the canonical signature).
const (
	selName        = "0x06fdde03" // name()
	selSymbol      = "0x95d89b41" // symbol()
	selDecimals    = "0x313ce567" // decimals()
	selTotalSupply = "0x18160ddd" // totalSupply()
	selOwner       = "0x8da5cb5b" // owner()
	selBalanceOf   = "0x70a08231" // balanceOf(address)
	selGetReserves = "0x0902f1ac" // getReserves()
	selToken0      = "0x0dfe1681" // token0()
	selToken1      = "0xd21220a7" // token1()
	selApprove     = "0x095ea7b3" // approve(address,uint256)

	// Router swap entrypoints.
	selSwapETHForTokens = "0x7ff36ab5" // swapExactETHForTokens(uint256,address[],address,uint256)
	selSwapTokensForETH = "0x18cbafe5" // swapExactTokensForETH(uint256,uint256,address[],address,uint256)
)

// PairCreated(address,address,address,uint256) topic0.
const TopicPairCreated = "0x0d3648bd0f6ba80134a33ba9275ac585d9d315f0ad8355cddefde31afa28d0e9"

// encWord left-pads hex (without 0x) to a 32-byte word.
func encWord(h string) string {
	h = strings.TrimPrefix(h, "0x")
	return strings.Repeat("0", 64-len(h)) + h
}

// encAddress encodes an address as a 32-byte word.
func encAddress(a Address) string {
	return encWord(string(a))
}

// encUint encodes an integer-valued decimal as a uint256 word.
func encUint(d decimal.Decimal) string {
	return encWord(d.BigInt().Text(16))
}

// encUint64 encodes a uint64 word.
func encUint64(v uint64) string {
	return encWord(new(big.Int).SetUint64(v).Text(16))
}

// encAddressArray encodes the tail of a dynamic address[]: length word
// followed by the elements.
func encAddressArray(addrs []Address) string {
	var b strings.Builder
	b.WriteString(encUint64(uint64(len(addrs))))
	for _, a := range addrs {
		b.WriteString(encAddress(a))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Calldata builders
// ---------------------------------------------------------------------------

// CalldataBalanceOf builds balanceOf(holder).
func CalldataBalanceOf(holder Address) string {
	return selBalanceOf + encAddress(holder)
}

// CalldataApprove builds approve(spender, amount).
func CalldataApprove(spender Address, amount decimal.Decimal) string {
	return selApprove + encAddress(spender) + encUint(amount)
}

// CalldataSwapETHForTokens builds swapExactETHForTokens. The ETH amount
// travels in the transaction value, not the calldata.
func CalldataSwapETHForTokens(minOut decimal.Decimal, path []Address, to Address, deadline uint64) string {
	var b strings.Builder
	b.WriteString(selSwapETHForTokens)
	b.WriteString(encUint(minOut))
	b.WriteString(encUint64(4 * 32)) // offset of path[]
	b.WriteString(encAddress(to))
	b.WriteString(encUint64(deadline))
	b.WriteString(encAddressArray(path))
	return b.String()
}

// CalldataSwapTokensForETH builds swapExactTokensForETH.
func CalldataSwapTokensForETH(amountIn, minOut decimal.Decimal, path []Address, to Address, deadline uint64) string {
	var b strings.Builder
	b.WriteString(selSwapTokensForETH)
	b.WriteString(encUint(amountIn))
	b.WriteString(encUint(minOut))
	b.WriteString(encUint64(5 * 32)) // offset of path[]
	b.WriteString(encAddress(to))
	b.WriteString(encUint64(deadline))
	b.WriteString(encAddressArray(path))
	return b.String()
}

// ---------------------------------------------------------------------------
// Return-data decoding
// ---------------------------------------------------------------------------

// decodeUint parses a 0x-hex quantity or a 32-byte return word.
func decodeUint(h string) (*big.Int, error) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "0x")
	if h == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, fmt.Errorf("bad hex quantity %q", h)
	}
	return v, nil
}

// decodeUint64 parses a hex quantity into a uint64.
func decodeUint64(h string) (uint64, error) {
	v, err := decodeUint(h)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// decodeAddressWord extracts an address from a 32-byte return word.
func decodeAddressWord(h string) Address {
	h = strings.TrimPrefix(h, "0x")
	if len(h) < 64 {
		return ""
	}
	return NormalizeAddress("0x" + h[24:64])
}

// decodeString decodes a dynamic ABI string return (offset, length, data).
func decodeString(h string) string {
	h = strings.TrimPrefix(h, "0x")
	if len(h) < 128 {
		return ""
	}
	length, err := decodeUint64(h[64:128])
	if err != nil || length == 0 || 128+int(length)*2 > len(h) {
		return ""
	}
	raw, err := hex.DecodeString(h[128 : 128+length*2])
	if err != nil {
		return ""
	}
	return string(raw)
}

// DecodeAmounts unpacks a uint256[] return (offset, length, values),
// the shape the router's swap and getAmountsOut calls produce.
func DecodeAmounts(h string) ([]decimal.Decimal, error) {
	h = strings.TrimPrefix(h, "0x")
	if len(h) < 128 {
		return nil, fmt.Errorf("short uint[] return (%d chars)", len(h))
	}
	length, err := decodeUint64(h[64:128])
	if err != nil {
		return nil, err
	}
	if 128+int(length)*64 > len(h) {
		return nil, fmt.Errorf("truncated uint[] return")
	}
	out := make([]decimal.Decimal, 0, length)
	for i := 0; i < int(length); i++ {
		v, err := decodeUint(h[128+i*64 : 128+(i+1)*64])
		if err != nil {
			return nil, err
		}
		out = append(out, decimal.NewFromBigInt(v, 0))
	}
	return out, nil
}

// EncodeAmounts builds a uint256[] return payload. Tests use it to
// shape stubbed eth_call results.
func EncodeAmounts(amounts []decimal.Decimal) string {
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(encUint64(32))
	b.WriteString(encUint64(uint64(len(amounts))))
	for _, a := range amounts {
		b.WriteString(encUint(a))
	}
	return b.String()
}

// decodeReserves unpacks getReserves() -> (uint112, uint112, uint32).
func decodeReserves(h string) (r0, r1 decimal.Decimal, err error) {
	h = strings.TrimPrefix(h, "0x")
	if len(h) < 192 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("short getReserves return (%d chars)", len(h))
	}
	v0, err := decodeUint(h[:64])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	v1, err := decodeUint(h[64:128])
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return decimal.NewFromBigInt(v0, 0), decimal.NewFromBigInt(v1, 0), nil
}
