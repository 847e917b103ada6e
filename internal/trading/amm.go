package trading

import (
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Constant-product AMM math (Uniswap V2, 0.3% LP fee)
// ---------------------------------------------------------------------------

var (
	feeNumerator   = decimal.NewFromInt(997)
	feeDenominator = decimal.NewFromInt(1000)
	hundred        = decimal.NewFromInt(100)
)

// AmountOut quotes the output of a swap against reserves:
//
//	out = (in*997*reserveOut) / (reserveIn*1000 + in*997)
//
// Truncated to integer raw units, matching the pair contract.
func AmountOut(amountIn, reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	if !amountIn.IsPositive() || !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return decimal.Zero
	}
	inWithFee := amountIn.Mul(feeNumerator)
	numerator := inWithFee.Mul(reserveOut)
	denominator := reserveIn.Mul(feeDenominator).Add(inWithFee)
	return numerator.Div(denominator).Floor()
}

// MinAmountOut applies the slippage tolerance to a quote:
//
//	min = quote * (1 - slippagePct/100)
func MinAmountOut(quote, slippagePct decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(slippagePct.Div(hundred))
	if factor.IsNegative() {
		return decimal.Zero
	}
	return quote.Mul(factor).Floor()
}

// PriceImpact returns how far (in percent) the execution price of a
// swap of amountIn falls below the pool's mid price.
func PriceImpact(amountIn, reserveIn, reserveOut decimal.Decimal) decimal.Decimal {
	if !amountIn.IsPositive() || !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return decimal.Zero
	}
	out := AmountOut(amountIn, reserveIn, reserveOut)
	if out.IsZero() {
		return hundred
	}
	execPrice := out.Div(amountIn)
	midPrice := reserveOut.Div(reserveIn)
	return decimal.NewFromInt(1).Sub(execPrice.Div(midPrice)).Mul(hundred)
}
