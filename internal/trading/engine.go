package trading

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Trading Engine — router swaps with slippage, deadline and gas control
// ---------------------------------------------------------------------------

var (
	// ErrSlippageExceeded means the router reverted because output fell
	// below minAmountOut.
	ErrSlippageExceeded = errors.New("trading: slippage exceeded")

	// ErrInsufficientFunds means the wallet cannot cover amount + gas.
	ErrInsufficientFunds = errors.New("trading: insufficient funds")

	// ErrTradeExecution covers every other on-chain trade failure.
	ErrTradeExecution = errors.New("trading: trade execution failed")

	// ErrGasTooHigh means the network gas price exceeds the configured
	// ceiling; the trade is deferred, not failed.
	ErrGasTooHigh = errors.New("trading: gas price above ceiling")

	// ErrDuplicatePosition means the token already has an open position.
	ErrDuplicatePosition = errors.New("trading: position already open for token")
)

// Config tunes the trading engine.
type Config struct {
	Router chain.Address `yaml:"router"`
	WETH   chain.Address `yaml:"weth"`
	Wallet chain.Address `yaml:"wallet"`

	// SlippagePct is the tolerated shortfall between quote and
	// execution, in percent (5 = 5%).
	SlippagePct decimal.Decimal `yaml:"slippage_pct"`

	// DeadlineWindow bounds how long a submitted swap stays valid.
	DeadlineWindow time.Duration `yaml:"deadline_window"`

	// GasMultiplier scales the network gas price for faster inclusion.
	GasMultiplier decimal.Decimal `yaml:"gas_multiplier"`

	// MaxGasPrice is the ceiling in wei. Zero disables the check.
	MaxGasPrice decimal.Decimal `yaml:"max_gas_price"`

	// EmergencySlippagePct replaces SlippagePct during emergency exits.
	EmergencySlippagePct decimal.Decimal `yaml:"emergency_slippage_pct"`

	// FallbackGasLimit is used when estimation fails.
	FallbackGasLimit uint64 `yaml:"fallback_gas_limit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SlippagePct:          decimal.NewFromInt(5),
		DeadlineWindow:       2 * time.Minute,
		GasMultiplier:        decimal.NewFromFloat(1.5),
		EmergencySlippagePct: decimal.NewFromInt(50),
		FallbackGasLimit:     300_000,
	}
}

// gasEstimateBuffer pads estimates by 20%.
var gasEstimateBuffer = decimal.NewFromFloat(1.2)

// PositionGuard answers whether a buy for the token may proceed. An
// error means no: the token already has an open position, or the
// open-position cap is reached. Checked before any wei is spent.
type PositionGuard interface {
	CanOpen(token chain.Address) error
}

// Engine executes buys and sells through the router. All chain access
// goes through the resilience-wrapped client.
type Engine struct {
	client chain.Client
	config Config
	guard  PositionGuard

	// Stats.
	buys     atomic.Int64
	sells    atomic.Int64
	failures atomic.Int64
	deferred atomic.Int64
}

// NewEngine creates a trading engine. guard may be nil.
func NewEngine(client chain.Client, config Config, guard PositionGuard) *Engine {
	if config.FallbackGasLimit == 0 {
		config.FallbackGasLimit = 300_000
	}
	if config.GasMultiplier.IsZero() {
		config.GasMultiplier = decimal.NewFromFloat(1.5)
	}
	if config.DeadlineWindow == 0 {
		config.DeadlineWindow = 2 * time.Minute
	}
	return &Engine{client: client, config: config, guard: guard}
}

// Buy spends amountWei of ETH on token via the router.
func (e *Engine) Buy(ctx context.Context, token, pair chain.Address, amountWei decimal.Decimal) (*TradeResult, error) {
	if e.guard != nil {
		if err := e.guard.CanOpen(token); err != nil {
			return nil, err
		}
	}

	reserves, err := e.client.PairReserves(ctx, pair, token)
	if err != nil {
		e.failures.Add(1)
		return nil, err
	}

	quote := AmountOut(amountWei, reserves.BaseReserve, reserves.TokenReserve)
	if quote.IsZero() {
		e.failures.Add(1)
		return nil, fmt.Errorf("%w: zero quote for %s", ErrTradeExecution, token)
	}
	minOut := MinAmountOut(quote, e.config.SlippagePct)
	deadline := uint64(time.Now().Add(e.config.DeadlineWindow).Unix())

	tx := chain.TxRequest{
		To:    e.config.Router,
		Data:  chain.CalldataSwapETHForTokens(minOut, []chain.Address{e.config.WETH, token}, e.config.Wallet, deadline),
		Value: amountWei,
	}

	result := newTradeResult(SideBuy, token, pair)
	result.AmountIn = amountWei
	result.AmountOut = quote
	result.MinAmountOut = minOut

	if err := e.execute(ctx, &tx, result); err != nil {
		// Once submitted the transaction exists on chain whatever the
		// receipt said; hand the partial result back so the caller can
		// record it.
		if result.TxHash != "" {
			return result, err
		}
		return nil, err
	}

	e.buys.Add(1)
	log.Info().
		Str("token", string(token)).
		Str("tx", string(result.TxHash)).
		Str("amount_in", amountWei.String()).
		Str("min_out", minOut.String()).
		Msg("trading: buy executed")
	return result, nil
}

// Sell swaps amountTokens of token back to ETH. It approves the router
// for the exact amount first; repeated approvals are harmless.
func (e *Engine) Sell(ctx context.Context, token, pair chain.Address, amountTokens decimal.Decimal) (*TradeResult, error) {
	return e.sell(ctx, token, pair, amountTokens, e.config.SlippagePct)
}

// EmergencySell dumps the full wallet balance of token with the widened
// emergency slippage. Used on shutdown and manual kill.
func (e *Engine) EmergencySell(ctx context.Context, token, pair chain.Address) (*TradeResult, error) {
	balance, err := e.client.TokenBalance(ctx, token, e.config.Wallet)
	if err != nil {
		return nil, err
	}
	if !balance.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to sell for %s", ErrTradeExecution, token)
	}
	slippage := e.config.EmergencySlippagePct
	if slippage.IsZero() {
		slippage = decimal.NewFromInt(50)
	}
	log.Warn().Str("token", string(token)).Str("balance", balance.String()).Msg("trading: emergency sell")
	return e.sell(ctx, token, pair, balance, slippage)
}

func (e *Engine) sell(ctx context.Context, token, pair chain.Address, amountTokens decimal.Decimal, slippagePct decimal.Decimal) (*TradeResult, error) {
	// Transfer-taxed tokens deliver less than the buy quoted, so the
	// wallet balance is the real ceiling. Selling more than it holds
	// reverts every time.
	balance, err := e.client.TokenBalance(ctx, token, e.config.Wallet)
	if err != nil {
		e.failures.Add(1)
		return nil, err
	}
	if balance.LessThan(amountTokens) {
		log.Debug().
			Str("token", string(token)).
			Str("requested", amountTokens.String()).
			Str("balance", balance.String()).
			Msg("trading: sell clamped to wallet balance")
		amountTokens = balance
	}
	if !amountTokens.IsPositive() {
		e.failures.Add(1)
		return nil, fmt.Errorf("%w: nothing to sell for %s", ErrTradeExecution, token)
	}

	reserves, err := e.client.PairReserves(ctx, pair, token)
	if err != nil {
		e.failures.Add(1)
		return nil, err
	}

	quote := AmountOut(amountTokens, reserves.TokenReserve, reserves.BaseReserve)
	if quote.IsZero() {
		e.failures.Add(1)
		return nil, fmt.Errorf("%w: zero quote for %s", ErrTradeExecution, token)
	}
	minOut := MinAmountOut(quote, slippagePct)
	deadline := uint64(time.Now().Add(e.config.DeadlineWindow).Unix())

	if err := e.approve(ctx, token, amountTokens); err != nil {
		e.failures.Add(1)
		return nil, err
	}

	tx := chain.TxRequest{
		To:   e.config.Router,
		Data: chain.CalldataSwapTokensForETH(amountTokens, minOut, []chain.Address{token, e.config.WETH}, e.config.Wallet, deadline),
	}

	result := newTradeResult(SideSell, token, pair)
	result.AmountIn = amountTokens
	result.AmountOut = quote
	result.MinAmountOut = minOut

	if err := e.execute(ctx, &tx, result); err != nil {
		if result.TxHash != "" {
			return result, err
		}
		return nil, err
	}

	e.sells.Add(1)
	log.Info().
		Str("token", string(token)).
		Str("tx", string(result.TxHash)).
		Str("amount_in", amountTokens.String()).
		Str("min_out", minOut.String()).
		Msg("trading: sell executed")
	return result, nil
}

// approve grants the router an allowance for the sell amount.
func (e *Engine) approve(ctx context.Context, token chain.Address, amount decimal.Decimal) error {
	tx := chain.TxRequest{
		To:   token,
		Data: chain.CalldataApprove(e.config.Router, amount),
	}
	gasPrice, gasLimit, err := e.gasPlan(ctx, tx)
	if err != nil {
		return err
	}
	tx.GasPrice, tx.GasLimit = gasPrice, gasLimit

	hash, err := e.client.Submit(ctx, tx)
	if err != nil {
		return e.classify(err)
	}
	receipt, err := e.client.WaitForReceipt(ctx, hash)
	if err != nil {
		return err
	}
	if !receipt.Success {
		return fmt.Errorf("%w: approve reverted (%s)", ErrTradeExecution, hash)
	}
	return nil
}

// execute prices gas, submits tx and waits for the receipt, filling in
// the result's execution fields.
func (e *Engine) execute(ctx context.Context, tx *chain.TxRequest, result *TradeResult) error {
	gasPrice, gasLimit, err := e.gasPlan(ctx, *tx)
	if err != nil {
		if errors.Is(err, ErrGasTooHigh) {
			e.deferred.Add(1)
			log.Warn().Str("token", string(result.Token)).Msg("trading: trade deferred, gas above ceiling")
		} else {
			e.failures.Add(1)
		}
		return err
	}
	tx.GasPrice, tx.GasLimit = gasPrice, gasLimit
	result.GasPrice = gasPrice

	hash, err := e.client.Submit(ctx, *tx)
	if err != nil {
		e.failures.Add(1)
		return e.classify(err)
	}
	result.TxHash = hash
	result.ExecutedAt = time.Now()

	receipt, err := e.client.WaitForReceipt(ctx, hash)
	if err != nil {
		e.failures.Add(1)
		return err
	}
	if !receipt.Success {
		e.failures.Add(1)
		if receipt.RevertReason != "" {
			return fmt.Errorf("%w: reverted: %s (%s)", ErrTradeExecution, receipt.RevertReason, hash)
		}
		return fmt.Errorf("%w: reverted (%s)", ErrTradeExecution, hash)
	}
	result.GasUsed = receipt.GasUsed
	return nil
}

// gasPlan prices the transaction: network price scaled by the
// multiplier and checked against the ceiling, estimate padded by 20%
// with a static fallback when estimation fails.
func (e *Engine) gasPlan(ctx context.Context, tx chain.TxRequest) (decimal.Decimal, uint64, error) {
	networkPrice, err := e.client.GasPrice(ctx)
	if err != nil {
		return decimal.Zero, 0, err
	}
	gasPrice := networkPrice.Mul(e.config.GasMultiplier).Floor()
	if e.config.MaxGasPrice.IsPositive() && gasPrice.GreaterThan(e.config.MaxGasPrice) {
		return decimal.Zero, 0, fmt.Errorf("%w: %s > %s wei", ErrGasTooHigh, gasPrice, e.config.MaxGasPrice)
	}

	gasLimit := e.config.FallbackGasLimit
	est, err := e.client.EstimateGas(ctx, tx)
	if err == nil {
		gasLimit = uint64(decimal.NewFromInt(int64(est)).Mul(gasEstimateBuffer).IntPart())
	} else if !errors.Is(err, chain.ErrGasEstimation) {
		return decimal.Zero, 0, err
	} else {
		log.Debug().Err(err).Msg("trading: gas estimation failed, using fallback limit")
	}
	return gasPrice, gasLimit, nil
}

// classify maps submit failures onto the trading error taxonomy.
// Connection-level failures pass through untouched so callers can see
// the resilience layer's verdict.
func (e *Engine) classify(err error) error {
	if !errors.Is(err, chain.ErrContractCall) {
		return err
	}
	switch chain.RevertReason(err) {
	case chain.RevertSlippage, chain.RevertInsufficientOut:
		return fmt.Errorf("%w: %v", ErrSlippageExceeded, err)
	case chain.RevertInsufficientFund, chain.RevertInsufficientBal:
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%w: %v", ErrTradeExecution, err)
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Buys     int64 `json:"buys"`
	Sells    int64 `json:"sells"`
	Failures int64 `json:"failures"`
	Deferred int64 `json:"deferred"`
}

// Stats returns execution counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Buys:     e.buys.Load(),
		Sells:    e.sells.Load(),
		Failures: e.failures.Load(),
		Deferred: e.deferred.Load(),
	}
}
