package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

var (
	testWETH    = chain.NormalizeAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	testFactory = chain.NormalizeAddress("0x5c69bee701ef814a2b6a3edd4b1652cb9cc5aa6f")
	testToken   = chain.NormalizeAddress("0x1111111111111111111111111111111111111111")
	testPair    = chain.NormalizeAddress("0x3333333333333333333333333333333333333333")
)

type recordingHandler struct {
	mu         sync.Mutex
	candidates []Candidate
	done       chan struct{}
}

func newRecordingHandler(expect int) *recordingHandler {
	h := &recordingHandler{done: make(chan struct{}, expect)}
	return h
}

func (h *recordingHandler) handle(ctx context.Context, c Candidate) {
	h.mu.Lock()
	h.candidates = append(h.candidates, c)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *recordingHandler) wait(t *testing.T, n int) []Candidate {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for candidate %d", i+1)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Candidate, len(h.candidates))
	copy(out, h.candidates)
	return out
}

func startMonitor(t *testing.T, stub *chain.StubClient, h Handler) (context.CancelFunc, *Monitor) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Factory = testFactory
	cfg.WETH = testWETH
	m := New(stub, cfg, h)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	return cancel, m
}

func TestMonitor(t *testing.T) {
	t.Run("resolves the non-WETH side", func(t *testing.T) {
		stub := chain.NewStubClient()
		h := newRecordingHandler(2)
		cancel, _ := startMonitor(t, stub, h.handle)
		defer cancel()

		// WETH in slot 0 and in slot 1.
		stub.EmitPair(chain.PairEvent{PairAddress: testPair, Token0: testWETH, Token1: testToken, BlockNumber: 1})
		other := chain.NormalizeAddress("0x4444444444444444444444444444444444444444")
		otherPair := chain.NormalizeAddress("0x5555555555555555555555555555555555555555")
		stub.EmitPair(chain.PairEvent{PairAddress: otherPair, Token0: other, Token1: testWETH, BlockNumber: 2})

		got := h.wait(t, 2)
		require.Len(t, got, 2)
		tokens := map[chain.Address]bool{got[0].Token: true, got[1].Token: true}
		assert.True(t, tokens[testToken])
		assert.True(t, tokens[other])
	})

	t.Run("duplicate pairs are processed once", func(t *testing.T) {
		stub := chain.NewStubClient()
		h := newRecordingHandler(1)
		cancel, m := startMonitor(t, stub, h.handle)
		defer cancel()

		ev := chain.PairEvent{PairAddress: testPair, Token0: testWETH, Token1: testToken, BlockNumber: 1}
		stub.EmitPair(ev)
		stub.EmitPair(ev)

		h.wait(t, 1)
		assert.Eventually(t, func() bool {
			return m.Stats().Duplicates == 1
		}, 2*time.Second, 10*time.Millisecond)
		h.mu.Lock()
		defer h.mu.Unlock()
		assert.Len(t, h.candidates, 1)
	})

	t.Run("pairs without a WETH side are skipped", func(t *testing.T) {
		stub := chain.NewStubClient()
		h := newRecordingHandler(1)
		cancel, m := startMonitor(t, stub, h.handle)
		defer cancel()

		a := chain.NormalizeAddress("0x6666666666666666666666666666666666666666")
		b := chain.NormalizeAddress("0x7777777777777777777777777777777777777777")
		stub.EmitPair(chain.PairEvent{PairAddress: testPair, Token0: a, Token1: b, BlockNumber: 1})

		assert.Eventually(t, func() bool {
			return m.Stats().NonWETH == 1
		}, 2*time.Second, 10*time.Millisecond)
		h.mu.Lock()
		defer h.mu.Unlock()
		assert.Empty(t, h.candidates)
	})

	t.Run("a second pair for a known token is dropped", func(t *testing.T) {
		stub := chain.NewStubClient()
		h := newRecordingHandler(1)
		cancel, m := startMonitor(t, stub, h.handle)
		defer cancel()

		stub.EmitPair(chain.PairEvent{PairAddress: testPair, Token0: testWETH, Token1: testToken, BlockNumber: 1})
		relisting := chain.NormalizeAddress("0x5555555555555555555555555555555555555555")
		stub.EmitPair(chain.PairEvent{PairAddress: relisting, Token0: testToken, Token1: testWETH, BlockNumber: 2})

		got := h.wait(t, 1)
		assert.Eventually(t, func() bool {
			return m.Stats().Duplicates == 1
		}, 2*time.Second, 10*time.Millisecond)
		h.mu.Lock()
		defer h.mu.Unlock()
		require.Len(t, h.candidates, 1, "one token must never reach the pipeline twice")
		assert.Equal(t, testPair, got[0].Pair)
	})

	t.Run("a panicking pipeline does not stop the loop", func(t *testing.T) {
		stub := chain.NewStubClient()
		h := newRecordingHandler(1)
		handler := func(ctx context.Context, c Candidate) {
			if c.Token == testToken {
				panic("bad token")
			}
			h.handle(ctx, c)
		}
		cancel, _ := startMonitor(t, stub, handler)
		defer cancel()

		stub.EmitPair(chain.PairEvent{PairAddress: testPair, Token0: testWETH, Token1: testToken, BlockNumber: 1})
		survivor := chain.NormalizeAddress("0x4444444444444444444444444444444444444444")
		survivorPair := chain.NormalizeAddress("0x5555555555555555555555555555555555555555")
		stub.EmitPair(chain.PairEvent{PairAddress: survivorPair, Token0: testWETH, Token1: survivor, BlockNumber: 2})

		got := h.wait(t, 1)
		assert.Equal(t, survivor, got[0].Token)
	})

	t.Run("run drains in-flight pipelines before returning", func(t *testing.T) {
		stub := chain.NewStubClient()
		started := make(chan struct{})
		release := make(chan struct{})
		var finished atomic.Bool
		handler := func(ctx context.Context, c Candidate) {
			close(started)
			<-release
			finished.Store(true)
		}
		cfg := DefaultConfig()
		cfg.Factory = testFactory
		cfg.WETH = testWETH
		m := New(stub, cfg, handler)

		runDone := make(chan struct{})
		ctx, runCancel := context.WithCancel(context.Background())
		defer runCancel()
		go func() {
			_ = m.Run(ctx)
			close(runDone)
		}()

		stub.EmitPair(chain.PairEvent{PairAddress: testPair, Token0: testWETH, Token1: testToken, BlockNumber: 1})
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("pipeline never started")
		}

		runCancel()
		select {
		case <-runDone:
			t.Fatal("run returned while a pipeline was still in flight")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case <-runDone:
		case <-time.After(2 * time.Second):
			t.Fatal("run did not return after pipelines drained")
		}
		assert.True(t, finished.Load())
	})
}
