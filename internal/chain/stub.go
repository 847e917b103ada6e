package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stub Client (for testing and development)
// ---------------------------------------------------------------------------

// StubClient is an in-memory Client for tests. Every response is
// seeded by the test; SimulateFn and failNext inject failure modes.
type StubClient struct {
	mu          sync.RWMutex
	tokens      map[Address]*TokenInfo
	reserves    map[Address]*PairReserves
	balances    map[string]decimal.Decimal
	ethBalances map[Address]decimal.Decimal
	gasPrice    decimal.Decimal
	gasEst      uint64
	gasErr      error

	// SimulateFn handles CallSimulated when set.
	SimulateFn func(tx TxRequest) (string, error)

	submitErr   error
	receiptOK   bool
	submitted   []TxRequest
	nextErr     error
	healthErr   error
	pairChan    chan PairEvent
	blockNumber uint64
}

// NewStubClient creates a stub with sane defaults: 20 gwei gas, 150k
// gas estimates, successful receipts.
func NewStubClient() *StubClient {
	return &StubClient{
		tokens:      make(map[Address]*TokenInfo),
		reserves:    make(map[Address]*PairReserves),
		balances:    make(map[string]decimal.Decimal),
		ethBalances: make(map[Address]decimal.Decimal),
		gasPrice:    decimal.NewFromInt(20_000_000_000),
		gasEst:      150_000,
		receiptOK:   true,
		pairChan:    make(chan PairEvent, 100),
		blockNumber: 1,
	}
}

// AddToken registers a token for the stub to return.
func (s *StubClient) AddToken(info TokenInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[info.Address] = &info
}

// SetReserves seeds reserves for a pair.
func (s *StubClient) SetReserves(r PairReserves) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	s.reserves[r.Pair] = &r
}

// SetETHBalance seeds the native balance of an address.
func (s *StubClient) SetETHBalance(addr Address, wei decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ethBalances[addr] = wei
}

// SetBalance seeds balanceOf(token, holder).
func (s *StubClient) SetBalance(token, holder Address, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[string(token)+"|"+string(holder)] = amount
}

// SetGasPrice overrides the stub gas price (wei).
func (s *StubClient) SetGasPrice(wei decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasPrice = wei
}

// SetGasEstimate overrides the stub gas estimate, or makes estimation
// fail when err is non-nil.
func (s *StubClient) SetGasEstimate(gas uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasEst, s.gasErr = gas, err
}

// SetSubmitError makes Submit fail.
func (s *StubClient) SetSubmitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

// SetReceiptSuccess controls whether mined receipts report success.
func (s *StubClient) SetReceiptSuccess(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptOK = ok
}

// FailNext makes the next call return err, once.
func (s *StubClient) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextErr = err
}

// SetHealthError makes Health report err.
func (s *StubClient) SetHealthError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthErr = err
}

// EmitPair pushes a PairCreated event to subscribers.
func (s *StubClient) EmitPair(ev PairEvent) {
	s.pairChan <- ev
}

// Submitted returns a copy of every transaction passed to Submit.
func (s *StubClient) Submitted() []TxRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TxRequest, len(s.submitted))
	copy(out, s.submitted)
	return out
}

// takeNextErr consumes the injected one-shot error.
func (s *StubClient) takeNextErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.nextErr
	s.nextErr = nil
	return err
}

// ---------------------------------------------------------------------------
// Client interface implementation
// ---------------------------------------------------------------------------

func (s *StubClient) LatestBlock(ctx context.Context) (uint64, error) {
	if err := s.takeNextErr(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockNumber++
	return s.blockNumber, nil
}

func (s *StubClient) TokenInfo(ctx context.Context, token Address) (*TokenInfo, error) {
	if err := s.takeNextErr(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tokens[token]
	if !ok {
		return nil, callErr("TokenInfo", fmt.Errorf("unknown token %s", token))
	}
	cp := *info
	return &cp, nil
}

func (s *StubClient) PairReserves(ctx context.Context, pair, token Address) (*PairReserves, error) {
	if err := s.takeNextErr(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reserves[pair]
	if !ok {
		return nil, callErr("PairReserves", fmt.Errorf("unknown pair %s", pair))
	}
	cp := *r
	cp.Token = token
	return &cp, nil
}

func (s *StubClient) TokenBalance(ctx context.Context, token, holder Address) (decimal.Decimal, error) {
	if err := s.takeNextErr(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[string(token)+"|"+string(holder)], nil
}

func (s *StubClient) Balance(ctx context.Context, addr Address) (decimal.Decimal, error) {
	if err := s.takeNextErr(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ethBalances[addr], nil
}

func (s *StubClient) GasPrice(ctx context.Context) (decimal.Decimal, error) {
	if err := s.takeNextErr(); err != nil {
		return decimal.Zero, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gasPrice, nil
}

func (s *StubClient) EstimateGas(ctx context.Context, tx TxRequest) (uint64, error) {
	if err := s.takeNextErr(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gasErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrGasEstimation, s.gasErr)
	}
	return s.gasEst, nil
}

func (s *StubClient) Code(ctx context.Context, addr Address) (string, error) {
	if err := s.takeNextErr(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.tokens[addr]; ok && info.HasCode {
		code := "0x6080604052"
		if info.Verified {
			code += metadataMarker
		}
		return code, nil
	}
	return "0x", nil
}

func (s *StubClient) CallSimulated(ctx context.Context, tx TxRequest) (string, error) {
	if err := s.takeNextErr(); err != nil {
		return "", err
	}
	s.mu.RLock()
	fn := s.SimulateFn
	s.mu.RUnlock()
	if fn != nil {
		return fn(tx)
	}
	return "0x", nil
}

func (s *StubClient) Submit(ctx context.Context, tx TxRequest) (TxHash, error) {
	if err := s.takeNextErr(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, tx)
	return TxHash(fmt.Sprintf("0xstub%060d", len(s.submitted))), nil
}

func (s *StubClient) WaitForReceipt(ctx context.Context, hash TxHash) (*Receipt, error) {
	if err := s.takeNextErr(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Receipt{
		TxHash:      hash,
		Success:     s.receiptOK,
		GasUsed:     s.gasEst,
		BlockNumber: s.blockNumber,
	}, nil
}

func (s *StubClient) SubscribePairs(ctx context.Context, factory Address) (<-chan PairEvent, error) {
	if err := s.takeNextErr(); err != nil {
		return nil, err
	}
	return s.pairChan, nil
}

func (s *StubClient) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthErr
}

func (s *StubClient) Close() {}
