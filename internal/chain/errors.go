package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ---------------------------------------------------------------------------
// Error taxonomy — every gateway failure is one of these three
// ---------------------------------------------------------------------------

var (
	// ErrConnection covers transport-level failures: timeouts, refused
	// connections, dropped sockets, HTTP 5xx/429. Transient and retryable.
	ErrConnection = errors.New("chain: connection error")

	// ErrContractCall covers execution-level failures: reverts, invalid
	// call data, missing contracts. Not retryable.
	ErrContractCall = errors.New("chain: contract call error")

	// ErrGasEstimation covers eth_estimateGas failures. The caller may
	// proceed with a fallback gas limit.
	ErrGasEstimation = errors.New("chain: gas estimation error")
)

// connErr wraps err as a connection error.
func connErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConnection, op, err)
}

// callErr wraps err as a contract call error.
func callErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrContractCall, op, err)
}

// IsTransient reports whether err is worth retrying. Only connection
// errors qualify; reverts and estimation failures are deterministic.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Revert reasons — the trading contract's documented failure modes
// ---------------------------------------------------------------------------

// Revert strings the router and trading contract emit. Matching is
// substring-based and case-insensitive because nodes differ in how they
// surface the reason.
const (
	RevertNoETHSent        = "no eth sent"
	RevertSlippage         = "slippage too high"
	RevertInsufficientBal  = "insufficient token balance"
	RevertInsufficientOut  = "insufficient_output_amount"
	RevertTransferFailed   = "transfer_failed"
	RevertInsufficientFund = "insufficient funds"
)

// RevertReason extracts the revert reason out of a contract call error,
// or "" when none is present.
func RevertReason(err error) string {
	if err == nil || !errors.Is(err, ErrContractCall) {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, reason := range []string{
		RevertNoETHSent,
		RevertSlippage,
		RevertInsufficientBal,
		RevertInsufficientOut,
		RevertTransferFailed,
		RevertInsufficientFund,
	} {
		if strings.Contains(msg, reason) {
			return reason
		}
	}
	return ""
}
