package chain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Address is a 0x-prefixed, lowercased EVM address.
type Address string

// TxHash is a 0x-prefixed transaction hash.
type TxHash string

// NormalizeAddress lowercases an address so map lookups and comparisons
// are checksum-insensitive.
func NormalizeAddress(a string) Address {
	return Address(strings.ToLower(a))
}

// ZeroAddress is the null address; a factory returning it for getPair
// means the pair does not exist.
const ZeroAddress Address = "0x0000000000000000000000000000000000000000"

// DeadAddress receives burned LP tokens.
const DeadAddress Address = "0x000000000000000000000000000000000000dead"

// ---------------------------------------------------------------------------
// Event & token types
// ---------------------------------------------------------------------------

// PairEvent is a decoded PairCreated log from the factory. Immutable,
// consumed once by the monitor.
type PairEvent struct {
	PairAddress Address `json:"pair_address"`
	Token0      Address `json:"token0"`
	Token1      Address `json:"token1"`
	BlockNumber uint64  `json:"block_number"`
}

// TokenInfo describes an ERC-20 token.
type TokenInfo struct {
	Address     Address         `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	// Owner is the current contract owner, or empty when ownership is
	// renounced (owner() reverted or returned the zero address).
	Owner    Address `json:"owner,omitempty"`
	Verified bool    `json:"verified"`
	HasCode  bool    `json:"has_code"`
}

// IsOwnershipRenounced reports whether the owner slot is empty or dead.
func (t TokenInfo) IsOwnershipRenounced() bool {
	return t.Owner == "" || t.Owner == ZeroAddress || t.Owner == DeadAddress
}

// PairReserves is a snapshot of a pair's reserves, ordered so that
// TokenReserve always refers to the candidate token and BaseReserve to
// WETH, regardless of on-chain slot order.
type PairReserves struct {
	Pair         Address         `json:"pair"`
	Token        Address         `json:"token"`
	TokenReserve decimal.Decimal `json:"token_reserve"`
	BaseReserve  decimal.Decimal `json:"base_reserve"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Price returns the mid price of the token in base units (WETH per token).
func (r PairReserves) Price() decimal.Decimal {
	if r.TokenReserve.IsZero() {
		return decimal.Zero
	}
	return r.BaseReserve.Div(r.TokenReserve)
}

// ---------------------------------------------------------------------------
// Transaction types
// ---------------------------------------------------------------------------

// TxRequest is an unsigned transaction handed to the gateway for
// gas estimation and submission.
type TxRequest struct {
	To       Address         `json:"to"`
	Data     string          `json:"data"` // 0x-prefixed calldata
	Value    decimal.Decimal `json:"value"`
	GasLimit uint64          `json:"gas_limit,omitempty"`
	GasPrice decimal.Decimal `json:"gas_price,omitempty"` // wei
}

// Receipt is the mined result of a submitted transaction.
type Receipt struct {
	TxHash      TxHash `json:"tx_hash"`
	Success     bool   `json:"success"`
	GasUsed     uint64 `json:"gas_used"`
	BlockNumber uint64 `json:"block_number"`
	// RevertReason is populated on failure when the node returns one.
	RevertReason string `json:"revert_reason,omitempty"`
}
