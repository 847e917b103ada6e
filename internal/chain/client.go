package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Chain Client Interface
// ---------------------------------------------------------------------------

// Client is the interface for EVM node interactions.
// Implementations: RPCClient (live JSON-RPC), StubClient (testing).
type Client interface {
	// LatestBlock returns the current block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// TokenInfo fetches ERC-20 metadata, ownership and bytecode presence.
	TokenInfo(ctx context.Context, token Address) (*TokenInfo, error)

	// PairReserves reads getReserves on a pair and orients the result so
	// the candidate token's reserve is TokenReserve.
	PairReserves(ctx context.Context, pair, token Address) (*PairReserves, error)

	// TokenBalance returns balanceOf(holder) on an ERC-20 contract,
	// in raw token units.
	TokenBalance(ctx context.Context, token, holder Address) (decimal.Decimal, error)

	// Balance returns the native ETH balance of an address in wei.
	Balance(ctx context.Context, addr Address) (decimal.Decimal, error)

	// GasPrice returns the current network gas price in wei.
	GasPrice(ctx context.Context) (decimal.Decimal, error)

	// EstimateGas estimates gas for a transaction.
	EstimateGas(ctx context.Context, tx TxRequest) (uint64, error)

	// Code returns the contract bytecode at an address ("0x" when none).
	Code(ctx context.Context, addr Address) (string, error)

	// CallSimulated executes eth_call without submitting, returning the
	// raw hex return data. Reverts surface as ErrContractCall.
	CallSimulated(ctx context.Context, tx TxRequest) (string, error)

	// Submit signs and broadcasts a transaction.
	Submit(ctx context.Context, tx TxRequest) (TxHash, error)

	// WaitForReceipt blocks until the transaction is mined or ctx expires.
	WaitForReceipt(ctx context.Context, hash TxHash) (*Receipt, error)

	// SubscribePairs streams PairCreated events from the factory.
	SubscribePairs(ctx context.Context, factory Address) (<-chan PairEvent, error)

	// Health checks endpoint liveness.
	Health(ctx context.Context) error

	// Close releases connections.
	Close()
}

// RPCConfig configures the EVM RPC client.
type RPCConfig struct {
	Endpoint   string        `yaml:"endpoint"`    // e.g. https://eth.llamarpc.com
	WSEndpoint string        `yaml:"ws_endpoint"` // e.g. wss://eth.llamarpc.com
	Timeout    time.Duration `yaml:"timeout"`
	// From is the bot wallet; signing happens node-side via
	// eth_sendTransaction against a local/unlocked signer.
	From Address `yaml:"from"`
	// PollInterval drives the HTTP log-poll fallback when no WS
	// endpoint is configured.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "http://127.0.0.1:8545",
		WSEndpoint:   "",
		Timeout:      10 * time.Second,
		PollInterval: 2 * time.Second,
	}
}
