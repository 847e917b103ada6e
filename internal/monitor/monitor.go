package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
)

// ---------------------------------------------------------------------------
// Pair Monitor — discovery loop feeding the snipe pipeline
// ---------------------------------------------------------------------------

// Candidate is a discovered token paired against WETH, ready for
// validation.
type Candidate struct {
	Token      chain.Address   `json:"token"`
	Pair       chain.Address   `json:"pair"`
	Event      chain.PairEvent `json:"event"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Handler runs the per-candidate pipeline: validate, buy, open
// position.
type Handler func(ctx context.Context, c Candidate)

// Config tunes the monitor.
type Config struct {
	Factory chain.Address `yaml:"factory"`
	WETH    chain.Address `yaml:"weth"`
	// QueueSize bounds the candidate backlog. When full, new events
	// are dropped and logged rather than blocking intake.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{QueueSize: 256}
}

// Monitor subscribes to factory PairCreated events, dedups pairs and
// tokens, resolves the non-WETH side and hands candidates to the
// pipeline.
// Each candidate runs in its own goroutine; a panicking pipeline never
// stops the loop.
type Monitor struct {
	client  chain.Client
	config  Config
	handler Handler

	mu        sync.Mutex
	seenPairs map[chain.Address]struct{}
	// seenTokens guards the one-position-per-token rule at intake: a
	// token listed through a second pair must not race an in-flight
	// pipeline for its first pair.
	seenTokens map[chain.Address]struct{}

	queue chan Candidate
	wg    sync.WaitGroup

	// Stats.
	pairsSeen  atomic.Int64
	candidates atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
	nonWETH    atomic.Int64
}

// New creates a monitor.
func New(client chain.Client, config Config, handler Handler) *Monitor {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	return &Monitor{
		client:     client,
		config:     config,
		handler:    handler,
		seenPairs:  make(map[chain.Address]struct{}),
		seenTokens: make(map[chain.Address]struct{}),
		queue:      make(chan Candidate, config.QueueSize),
	}
}

// Run consumes the subscription until ctx is cancelled, then waits for
// in-flight pipelines to drain.
func (m *Monitor) Run(ctx context.Context) error {
	events, err := m.client.SubscribePairs(ctx, m.config.Factory)
	if err != nil {
		return err
	}
	log.Info().
		Str("factory", string(m.config.Factory)).
		Int("queue_size", m.config.QueueSize).
		Msg("monitor: started")

	go m.dispatchLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			log.Info().Msg("monitor: stopped, in-flight pipelines drained")
			return nil
		case ev, ok := <-events:
			if !ok {
				m.wg.Wait()
				log.Info().Msg("monitor: event stream closed")
				return nil
			}
			m.intake(ev)
		}
	}
}

// intake filters one event into the queue.
func (m *Monitor) intake(ev chain.PairEvent) {
	m.pairsSeen.Add(1)

	token, ok := m.resolveToken(ev)
	if !ok {
		m.nonWETH.Add(1)
		log.Debug().Str("pair", string(ev.PairAddress)).Msg("monitor: no WETH side, skipping")
		return
	}

	m.mu.Lock()
	if _, dup := m.seenPairs[ev.PairAddress]; dup {
		m.mu.Unlock()
		m.duplicates.Add(1)
		return
	}
	if _, dup := m.seenTokens[token]; dup {
		m.mu.Unlock()
		m.duplicates.Add(1)
		log.Debug().
			Str("token", string(token)).
			Str("pair", string(ev.PairAddress)).
			Msg("monitor: token already dispatched through another pair")
		return
	}
	m.seenPairs[ev.PairAddress] = struct{}{}
	m.seenTokens[token] = struct{}{}
	m.mu.Unlock()

	c := Candidate{Token: token, Pair: ev.PairAddress, Event: ev, DetectedAt: time.Now()}
	select {
	case m.queue <- c:
		log.Info().
			Str("token", string(token)).
			Str("pair", string(ev.PairAddress)).
			Uint64("block", ev.BlockNumber).
			Msg("monitor: candidate queued")
	default:
		m.dropped.Add(1)
		log.Warn().Str("pair", string(ev.PairAddress)).Msg("monitor: queue full, dropping candidate")
	}
}

// resolveToken picks the non-WETH side of the pair.
func (m *Monitor) resolveToken(ev chain.PairEvent) (chain.Address, bool) {
	switch m.config.WETH {
	case ev.Token0:
		return ev.Token1, true
	case ev.Token1:
		return ev.Token0, true
	default:
		return "", false
	}
}

// dispatchLoop hands queued candidates to the pipeline.
func (m *Monitor) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-m.queue:
			m.candidates.Add(1)
			m.wg.Add(1)
			go func(c Candidate) {
				defer m.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.Error().
							Interface("panic", r).
							Str("token", string(c.Token)).
							Msg("monitor: pipeline panic recovered")
					}
				}()
				m.handler(ctx, c)
			}(c)
		}
	}
}

// Stats is a snapshot of monitor counters.
type Stats struct {
	PairsSeen  int64 `json:"pairs_seen"`
	Candidates int64 `json:"candidates"`
	Duplicates int64 `json:"duplicates"`
	Dropped    int64 `json:"dropped"`
	NonWETH    int64 `json:"non_weth"`
}

// Stats returns discovery counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		PairsSeen:  m.pairsSeen.Load(),
		Candidates: m.candidates.Load(),
		Duplicates: m.duplicates.Load(),
		Dropped:    m.dropped.Load(),
		NonWETH:    m.nonWETH.Load(),
	}
}
