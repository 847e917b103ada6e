package security

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Liquidity Lock Check
// ---------------------------------------------------------------------------

// Known locker contracts holding LP tokens on behalf of projects.
var DefaultLockers = []chain.Address{
	"0x663a5c229c09b049e36dcc11a9b0d4a8eb9db214", // Unicrypt
	"0x407993575c91ce7643a4d4ccacc9a98c36ee1bbe", // PinkLock
}

// LiquidityChecker verifies that enough of the pair's LP supply sits
// with lockers or the burn address.
type LiquidityChecker struct {
	client  chain.Client
	lockers []chain.Address

	// minLockedPct is the required locked share of LP supply.
	minLockedPct decimal.Decimal
}

// NewLiquidityChecker builds the checker. Empty lockers falls back to
// the default set; zero minLockedPct falls back to 80%.
func NewLiquidityChecker(client chain.Client, lockers []chain.Address, minLockedPct decimal.Decimal) *LiquidityChecker {
	if len(lockers) == 0 {
		lockers = DefaultLockers
	}
	if !minLockedPct.IsPositive() {
		minLockedPct = decimal.NewFromInt(80)
	}
	return &LiquidityChecker{client: client, lockers: lockers, minLockedPct: minLockedPct}
}

// Check sums LP balances held by lockers and the dead address against
// the LP total supply.
func (l *LiquidityChecker) Check(ctx context.Context, pair chain.Address) (locked bool, detail string, err error) {
	lpInfo, err := l.client.TokenInfo(ctx, pair)
	if err != nil {
		return false, "", err
	}
	if !lpInfo.TotalSupply.IsPositive() {
		return false, "zero LP supply", nil
	}

	holders := append([]chain.Address{chain.DeadAddress}, l.lockers...)
	lockedAmount := decimal.Zero
	for _, holder := range holders {
		balance, err := l.client.TokenBalance(ctx, pair, holder)
		if err != nil {
			return false, "", err
		}
		lockedAmount = lockedAmount.Add(balance)
	}

	lockedPct := lockedAmount.Div(lpInfo.TotalSupply).Mul(decimal.NewFromInt(100))
	detail = fmt.Sprintf("%s%% of LP locked or burned", lockedPct.StringFixed(1))
	return lockedPct.GreaterThanOrEqual(l.minLockedPct), detail, nil
}
