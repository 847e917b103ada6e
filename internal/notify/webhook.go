package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

// ---------------------------------------------------------------------------
// Webhook Notifier — trade and lifecycle events pushed to an HTTP endpoint
// ---------------------------------------------------------------------------

// Config configures the webhook notifier.
type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns development defaults. An empty URL disables
// delivery.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

// Event is one webhook payload.
type Event struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`

	Trade    *trading.TradeResult `json:"trade,omitempty"`
	Position *position.Position   `json:"position,omitempty"`
	Token    chain.Address        `json:"token,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// Event kinds.
const (
	KindStartup          = "startup"
	KindShutdown         = "shutdown"
	KindTradeExecuted    = "trade_executed"
	KindPositionClosed   = "position_closed"
	KindSecurityRejected = "security_rejected"
)

// Webhook delivers events as JSON POSTs. Delivery failures are logged
// and never propagate into the trading path.
type Webhook struct {
	config Config
	client *http.Client

	sent   atomic.Int64
	failed atomic.Int64
}

// NewWebhook creates a webhook notifier.
func NewWebhook(config Config) *Webhook {
	return &Webhook{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Startup announces the bot coming online.
func (w *Webhook) Startup(ctx context.Context, msg string) {
	w.deliver(ctx, Event{Kind: KindStartup, Message: msg})
}

// Shutdown announces the bot going offline.
func (w *Webhook) Shutdown(ctx context.Context, msg string) {
	w.deliver(ctx, Event{Kind: KindShutdown, Message: msg})
}

// TradeExecuted reports a filled buy or sell.
func (w *Webhook) TradeExecuted(ctx context.Context, t trading.TradeResult) {
	w.deliver(ctx, Event{Kind: KindTradeExecuted, Trade: &t})
}

// PositionClosed satisfies position.Notifier.
func (w *Webhook) PositionClosed(p position.Position) {
	w.deliver(context.Background(), Event{Kind: KindPositionClosed, Position: &p})
}

// SecurityRejected reports a token that failed validation.
func (w *Webhook) SecurityRejected(ctx context.Context, token chain.Address, reason string) {
	w.deliver(ctx, Event{Kind: KindSecurityRejected, Token: token, Reason: reason})
}

func (w *Webhook) deliver(ctx context.Context, ev Event) {
	if w.config.URL == "" {
		return
	}
	ev.At = time.Now()

	if err := w.post(ctx, ev); err != nil {
		w.failed.Add(1)
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("notify: webhook delivery failed")
		return
	}
	w.sent.Add(1)
}

func (w *Webhook) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

// Stats returns delivery counters.
func (w *Webhook) Stats() Stats {
	return Stats{
		Sent:   w.sent.Load(),
		Failed: w.failed.Load(),
	}
}
