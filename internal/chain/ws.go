package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Log Watcher — real-time PairCreated detection via eth_subscribe
// ---------------------------------------------------------------------------

// SubscribePairs streams decoded PairCreated events from the factory.
// With a WS endpoint configured it uses eth_subscribe("logs"); otherwise
// it polls eth_getLogs over HTTP.
func (c *RPCClient) SubscribePairs(ctx context.Context, factory Address) (<-chan PairEvent, error) {
	if c.config.WSEndpoint != "" {
		w := &logWatcher{
			wsEndpoint: c.config.WSEndpoint,
			factory:    factory,
			events:     make(chan PairEvent, 256),
		}
		go w.runLoop(ctx)
		return w.events, nil
	}
	return c.pollPairs(ctx, factory)
}

// pollPairs is the HTTP fallback: eth_getLogs over a sliding block range.
func (c *RPCClient) pollPairs(ctx context.Context, factory Address) (<-chan PairEvent, error) {
	from, err := c.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan PairEvent, 256)

	go func() {
		defer close(out)
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				latest, err := c.LatestBlock(ctx)
				if err != nil || latest < from {
					continue
				}
				result, err := c.call(ctx, "eth_getLogs", []any{map[string]any{
					"address":   string(factory),
					"topics":    []any{TopicPairCreated},
					"fromBlock": fmt.Sprintf("0x%x", from),
					"toBlock":   fmt.Sprintf("0x%x", latest),
				}})
				if err != nil {
					log.Debug().Err(err).Msg("rpc: poll logs error")
					continue
				}
				var logs []rawLog
				if err := json.Unmarshal(result, &logs); err != nil {
					continue
				}
				for _, l := range logs {
					if ev, ok := parsePairCreated(l); ok {
						select {
						case out <- ev:
						default:
							log.Warn().Msg("rpc: pair channel full, dropping event")
						}
					}
				}
				from = latest + 1
			}
		}
	}()
	return out, nil
}

// rawLog is the subset of an eth log entry the watcher needs.
type rawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
}

// parsePairCreated decodes PairCreated(token0 indexed, token1 indexed,
// pair, uint). The pair address sits in the first data word.
func parsePairCreated(l rawLog) (PairEvent, bool) {
	if len(l.Topics) < 3 || l.Topics[0] != TopicPairCreated {
		return PairEvent{}, false
	}
	pair := decodeAddressWord(l.Data)
	if pair == "" || pair == ZeroAddress {
		return PairEvent{}, false
	}
	block, _ := decodeUint64(l.BlockNumber)
	return PairEvent{
		PairAddress: pair,
		Token0:      decodeAddressWord(l.Topics[1]),
		Token1:      decodeAddressWord(l.Topics[2]),
		BlockNumber: block,
	}, true
}

// logWatcher owns a WS connection with reconnect and ping handling.
type logWatcher struct {
	wsEndpoint string
	factory    Address

	mu     sync.RWMutex
	conn   *websocket.Conn
	events chan PairEvent
	closed atomic.Bool

	nextID atomic.Int64

	// Stats.
	messagesRecv  atomic.Int64
	pairsDetected atomic.Int64
	reconnects    atomic.Int64
}

func (w *logWatcher) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: runLoop panic recovered")
		}
		w.mu.Lock()
		if w.closed.CompareAndSwap(false, true) {
			close(w.events)
		}
		w.mu.Unlock()
	}()

	reconnectDelay := time.Second
	const maxDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			w.disconnect()
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			log.Warn().Err(err).Msg("ws: connection failed")
			w.reconnects.Add(1)
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay *= 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		reconnectDelay = time.Second

		if err := w.subscribe(); err != nil {
			log.Warn().Err(err).Msg("ws: subscribe failed")
			w.disconnect()
			continue
		}

		w.readLoop(ctx)
	}
}

func (w *logWatcher) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsEndpoint, http.Header{})
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	log.Info().Str("endpoint", w.wsEndpoint).Msg("ws: connected")
	return nil
}

func (w *logWatcher) disconnect() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *logWatcher) subscribe() error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      w.nextID.Add(1),
		"method":  "eth_subscribe",
		"params": []any{
			"logs",
			map[string]any{
				"address": string(w.factory),
				"topics":  []any{TopicPairCreated},
			},
		},
	}

	w.mu.Lock()
	err := w.conn.WriteJSON(req)
	w.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().Str("factory", string(w.factory)).Msg("ws: subscribed to PairCreated logs")
	return nil
}

func (w *logWatcher) readLoop(ctx context.Context) {
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("ws: ping failed")
					return
				}
			}
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			return
		}

		w.messagesRecv.Add(1)
		w.handleMessage(message)
	}
}

func (w *logWatcher) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result       rawLog `json:"result"`
			Subscription string `json:"subscription"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}

	if notification.Method != "eth_subscription" {
		var subResp struct {
			Result string `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result != "" {
			log.Debug().Str("sub_id", subResp.Result).Msg("ws: subscription confirmed")
		}
		return
	}

	ev, ok := parsePairCreated(notification.Params.Result)
	if !ok {
		return
	}
	w.pairsDetected.Add(1)

	w.mu.RLock()
	if !w.closed.Load() {
		select {
		case w.events <- ev:
			log.Info().
				Str("pair", string(ev.PairAddress)).
				Uint64("block", ev.BlockNumber).
				Msg("ws: NEW PAIR DETECTED")
		default:
			log.Warn().Msg("ws: pair channel full, dropping event")
		}
	}
	w.mu.RUnlock()
}
