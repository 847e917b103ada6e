package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// ---------------------------------------------------------------------------
// Honeypot Check — simulated buy/sell round trip
// ---------------------------------------------------------------------------

// HoneypotChecker simulates buying the token and immediately selling
// it back at current reserves. A revert on the sell leg, or an output
// materially below the constant-product fair value, marks a honeypot.
type HoneypotChecker struct {
	client chain.Client
	router chain.Address
	weth   chain.Address
	wallet chain.Address

	// probeWei is the simulated buy size.
	probeWei decimal.Decimal

	// maxTaxPct is the tolerated shortfall between fair output and
	// simulated output, in percent.
	maxTaxPct decimal.Decimal
}

// NewHoneypotChecker builds the checker. probeWei and maxTaxPct fall
// back to 0.01 ETH and 10%.
func NewHoneypotChecker(client chain.Client, router, weth, wallet chain.Address, probeWei, maxTaxPct decimal.Decimal) *HoneypotChecker {
	if !probeWei.IsPositive() {
		probeWei = decimal.New(1, 16) // 0.01 ETH
	}
	if !maxTaxPct.IsPositive() {
		maxTaxPct = decimal.NewFromInt(10)
	}
	return &HoneypotChecker{
		client:    client,
		router:    router,
		weth:      weth,
		wallet:    wallet,
		probeWei:  probeWei,
		maxTaxPct: maxTaxPct,
	}
}

// Check runs the round trip. honeypot=true is definitive; err means
// the check could not complete and the verdict is unknown.
func (h *HoneypotChecker) Check(ctx context.Context, token, pair chain.Address) (honeypot bool, detail string, err error) {
	reserves, err := h.client.PairReserves(ctx, pair, token)
	if err != nil {
		return false, "", err
	}
	if !reserves.TokenReserve.IsPositive() || !reserves.BaseReserve.IsPositive() {
		return true, "empty reserves", nil
	}

	// Buy leg is pure math; the pool cannot block a purchase.
	bought := trading.AmountOut(h.probeWei, reserves.BaseReserve, reserves.TokenReserve)
	if bought.IsZero() {
		return true, "probe buy quotes zero", nil
	}

	// Fair sell value against post-buy reserves.
	fair := trading.AmountOut(
		bought,
		reserves.TokenReserve.Sub(bought),
		reserves.BaseReserve.Add(h.probeWei),
	)

	// Sell leg goes through eth_call so token-level transfer hooks run.
	sellData := chain.CalldataSwapTokensForETH(
		bought, decimal.Zero,
		[]chain.Address{token, h.weth}, h.wallet,
		maxDeadline,
	)
	out, err := h.client.CallSimulated(ctx, chain.TxRequest{To: h.router, Data: sellData})
	if err != nil {
		if errors.Is(err, chain.ErrContractCall) {
			return true, fmt.Sprintf("sell simulation reverted: %v", err), nil
		}
		return false, "", err
	}

	amounts, err := chain.DecodeAmounts(out)
	if err != nil || len(amounts) == 0 {
		// Node accepted the call but returned garbage; unknown.
		return false, "", fmt.Errorf("security: undecodable sell simulation output: %v", err)
	}
	received := amounts[len(amounts)-1]

	if !fair.IsPositive() {
		return true, "zero fair value", nil
	}
	taxPct := fair.Sub(received).Div(fair).Mul(decimal.NewFromInt(100))
	if taxPct.GreaterThan(h.maxTaxPct) {
		return true, fmt.Sprintf("effective sell tax %s%% above %s%%", taxPct.StringFixed(1), h.maxTaxPct), nil
	}
	return false, fmt.Sprintf("sell tax %s%%", taxPct.StringFixed(1)), nil
}

// maxDeadline keeps simulated swaps from tripping the router's
// deadline guard.
const maxDeadline = uint64(9999999999)
