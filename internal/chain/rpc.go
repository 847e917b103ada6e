package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — EVM JSON-RPC over HTTP, logs over WebSocket
// ---------------------------------------------------------------------------

// RPCClient talks to a real EVM node. It does transport and decoding
// only; rate limiting, breaking and retry live in the Gateway.
type RPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Unique request ID generator.
	nextID atomic.Int64

	// Stats.
	requestCount atomic.Int64
	errorCount   atomic.Int64
	latencySum   atomic.Int64 // cumulative microseconds
}

// Solidity metadata hash marker (CBOR "ipfs" key). Its presence means
// the bytecode carries compiler metadata, which only verified-style
// builds embed.
const metadataMarker = "a264697066735822"

// NewRPCClient creates a live EVM RPC client.
func NewRPCClient(config RPCConfig) *RPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	return &RPCClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Close releases client resources.
func (c *RPCClient) Close() {}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes one JSON-RPC call. Transport failures come back as
// ErrConnection; node-reported errors are classified by message.
func (c *RPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.errorCount.Add(1)
		return nil, connErr(method, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		c.errorCount.Add(1)
		return nil, connErr(method, err)
	}

	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())

	if resp.StatusCode != 200 {
		c.errorCount.Add(1)
		return nil, connErr(method, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.errorCount.Add(1)
		return nil, connErr(method, err)
	}
	if rpcResp.Error != nil {
		c.errorCount.Add(1)
		return nil, classifyRPCError(method, rpcResp.Error)
	}
	return rpcResp.Result, nil
}

// classifyRPCError splits node errors into execution failures (reverts,
// bad calldata) and node-side problems worth retrying.
func classifyRPCError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "revert"),
		strings.Contains(msg, "execution"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "nonce"),
		strings.Contains(msg, "invalid"):
		return callErr(method, fmt.Errorf("%d: %s", e.Code, e.Message))
	default:
		return connErr(method, fmt.Errorf("%d: %s", e.Code, e.Message))
	}
}

// ethCall is a read-only contract call against the latest block.
func (c *RPCClient) ethCall(ctx context.Context, to Address, data string) (string, error) {
	result, err := c.call(ctx, "eth_call", []any{
		map[string]any{"to": string(to), "data": data},
		"latest",
	})
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", connErr("eth_call", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Client interface implementation
// ---------------------------------------------------------------------------

// LatestBlock returns the current block number.
func (c *RPCClient) LatestBlock(ctx context.Context) (uint64, error) {
	result, err := c.call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, connErr("eth_blockNumber", err)
	}
	return decodeUint64(hexNum)
}

// TokenInfo reads ERC-20 metadata. name/symbol failures are tolerated
// (plenty of tokens skip the optional views); decimals and totalSupply
// failures are not.
func (c *RPCClient) TokenInfo(ctx context.Context, token Address) (*TokenInfo, error) {
	code, err := c.Code(ctx, token)
	if err != nil {
		return nil, err
	}
	info := &TokenInfo{
		Address:  token,
		HasCode:  len(strings.TrimPrefix(code, "0x")) > 0,
		Verified: strings.Contains(strings.ToLower(code), metadataMarker),
	}
	if !info.HasCode {
		return info, nil
	}

	if raw, err := c.ethCall(ctx, token, selName); err == nil {
		info.Name = decodeString(raw)
	}
	if raw, err := c.ethCall(ctx, token, selSymbol); err == nil {
		info.Symbol = decodeString(raw)
	}

	raw, err := c.ethCall(ctx, token, selDecimals)
	if err != nil {
		return nil, err
	}
	dec, err := decodeUint64(raw)
	if err != nil {
		return nil, callErr("decimals", err)
	}
	info.Decimals = uint8(dec)

	raw, err = c.ethCall(ctx, token, selTotalSupply)
	if err != nil {
		return nil, err
	}
	supply, err := decodeUint(raw)
	if err != nil {
		return nil, callErr("totalSupply", err)
	}
	info.TotalSupply = decimal.NewFromBigInt(supply, 0)

	// owner() reverting means no Ownable surface, treated as renounced.
	if raw, err := c.ethCall(ctx, token, selOwner); err == nil {
		info.Owner = decodeAddressWord(raw)
		if info.Owner == ZeroAddress {
			info.Owner = ""
		}
	}
	return info, nil
}

// PairReserves reads token0() and getReserves() and orients the result
// around the candidate token.
func (c *RPCClient) PairReserves(ctx context.Context, pair, token Address) (*PairReserves, error) {
	raw, err := c.ethCall(ctx, pair, selToken0)
	if err != nil {
		return nil, err
	}
	token0 := decodeAddressWord(raw)

	raw, err = c.ethCall(ctx, pair, selGetReserves)
	if err != nil {
		return nil, err
	}
	r0, r1, err := decodeReserves(raw)
	if err != nil {
		return nil, callErr("getReserves", err)
	}

	res := &PairReserves{Pair: pair, Token: token, UpdatedAt: time.Now()}
	if token0 == NormalizeAddress(string(token)) {
		res.TokenReserve, res.BaseReserve = r0, r1
	} else {
		res.TokenReserve, res.BaseReserve = r1, r0
	}
	return res, nil
}

// TokenBalance returns balanceOf(holder) in raw units.
func (c *RPCClient) TokenBalance(ctx context.Context, token, holder Address) (decimal.Decimal, error) {
	raw, err := c.ethCall(ctx, token, CalldataBalanceOf(holder))
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decodeUint(raw)
	if err != nil {
		return decimal.Zero, callErr("balanceOf", err)
	}
	return decimal.NewFromBigInt(v, 0), nil
}

// Balance returns the native ETH balance of an address in wei.
func (c *RPCClient) Balance(ctx context.Context, addr Address) (decimal.Decimal, error) {
	result, err := c.call(ctx, "eth_getBalance", []any{string(addr), "latest"})
	if err != nil {
		return decimal.Zero, err
	}
	var hexBal string
	if err := json.Unmarshal(result, &hexBal); err != nil {
		return decimal.Zero, connErr("eth_getBalance", err)
	}
	v, err := decodeUint(hexBal)
	if err != nil {
		return decimal.Zero, connErr("eth_getBalance", err)
	}
	return decimal.NewFromBigInt(v, 0), nil
}

// GasPrice returns the network gas price in wei.
func (c *RPCClient) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	result, err := c.call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var hexPrice string
	if err := json.Unmarshal(result, &hexPrice); err != nil {
		return decimal.Zero, connErr("eth_gasPrice", err)
	}
	v, err := decodeUint(hexPrice)
	if err != nil {
		return decimal.Zero, connErr("eth_gasPrice", err)
	}
	return decimal.NewFromBigInt(v, 0), nil
}

// EstimateGas estimates gas; failures come back as ErrGasEstimation so
// callers can fall back to a static limit.
func (c *RPCClient) EstimateGas(ctx context.Context, tx TxRequest) (uint64, error) {
	result, err := c.call(ctx, "eth_estimateGas", []any{c.txParams(tx)})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}
	var hexGas string
	if err := json.Unmarshal(result, &hexGas); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}
	gas, err := decodeUint64(hexGas)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGasEstimation, err)
	}
	return gas, nil
}

// Code returns the bytecode at addr.
func (c *RPCClient) Code(ctx context.Context, addr Address) (string, error) {
	result, err := c.call(ctx, "eth_getCode", []any{string(addr), "latest"})
	if err != nil {
		return "", err
	}
	var code string
	if err := json.Unmarshal(result, &code); err != nil {
		return "", connErr("eth_getCode", err)
	}
	return code, nil
}

// CallSimulated executes the transaction via eth_call without mining it.
func (c *RPCClient) CallSimulated(ctx context.Context, tx TxRequest) (string, error) {
	result, err := c.call(ctx, "eth_call", []any{c.txParams(tx), "latest"})
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", connErr("eth_call", err)
	}
	return out, nil
}

// Submit broadcasts via eth_sendTransaction (node-side signer).
func (c *RPCClient) Submit(ctx context.Context, tx TxRequest) (TxHash, error) {
	result, err := c.call(ctx, "eth_sendTransaction", []any{c.txParams(tx)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return "", connErr("eth_sendTransaction", err)
	}
	log.Debug().Str("tx", hash).Str("to", string(tx.To)).Msg("rpc: transaction submitted")
	return TxHash(hash), nil
}

// WaitForReceipt polls for the receipt until mined or ctx expires.
func (c *RPCClient) WaitForReceipt(ctx context.Context, hash TxHash) (*Receipt, error) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()
	for {
		result, err := c.call(ctx, "eth_getTransactionReceipt", []any{string(hash)})
		if err == nil && string(result) != "null" && len(result) > 0 {
			var raw struct {
				Status      string `json:"status"`
				GasUsed     string `json:"gasUsed"`
				BlockNumber string `json:"blockNumber"`
			}
			if err := json.Unmarshal(result, &raw); err != nil {
				return nil, connErr("eth_getTransactionReceipt", err)
			}
			gasUsed, _ := decodeUint64(raw.GasUsed)
			block, _ := decodeUint64(raw.BlockNumber)
			return &Receipt{
				TxHash:      hash,
				Success:     raw.Status == "0x1",
				GasUsed:     gasUsed,
				BlockNumber: block,
			}, nil
		}
		if err != nil {
			log.Debug().Err(err).Str("tx", string(hash)).Msg("rpc: receipt poll error")
		}
		select {
		case <-ctx.Done():
			return nil, connErr("eth_getTransactionReceipt", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Health checks the endpoint with a cheap call.
func (c *RPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.LatestBlock(healthCtx)
	return err
}

// txParams converts a TxRequest into eth_* call parameters.
func (c *RPCClient) txParams(tx TxRequest) map[string]any {
	params := map[string]any{
		"from": string(c.config.From),
		"to":   string(tx.To),
		"data": tx.Data,
	}
	if tx.Value.IsPositive() {
		params["value"] = "0x" + tx.Value.BigInt().Text(16)
	}
	if tx.GasLimit > 0 {
		params["gas"] = "0x" + new(big.Int).SetUint64(tx.GasLimit).Text(16)
	}
	if tx.GasPrice.IsPositive() {
		params["gasPrice"] = "0x" + tx.GasPrice.BigInt().Text(16)
	}
	return params
}

// RPCStats is a point-in-time snapshot of client counters.
type RPCStats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
	AvgLatencyUs int64 `json:"avg_latency_us"`
}

// Stats returns request counters for health reporting.
func (c *RPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount: reqCount,
		ErrorCount:   c.errorCount.Load(),
		AvgLatencyUs: avgLatency,
	}
}
