package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickdraw-trading/quickdraw/internal/chain"
	"github.com/quickdraw-trading/quickdraw/internal/position"
	"github.com/quickdraw-trading/quickdraw/internal/trading"
)

type capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *capture) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestWebhookDelivery(t *testing.T) {
	ctx := context.Background()
	var rec capture
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	config := DefaultConfig()
	config.URL = srv.URL
	w := NewWebhook(config)

	token := chain.NormalizeAddress("0x1111111111111111111111111111111111111111")

	w.Startup(ctx, "online")
	w.TradeExecuted(ctx, trading.TradeResult{
		ID:       "t1",
		Side:     trading.SideBuy,
		Token:    token,
		AmountIn: decimal.NewFromInt(1),
	})
	w.PositionClosed(position.Position{
		ID:         "p1",
		Token:      token,
		State:      position.StateClosed,
		ExitReason: position.ExitProfitTarget,
	})
	w.SecurityRejected(ctx, token, "honeypot")

	events := rec.all()
	require.Len(t, events, 4)
	assert.Equal(t, KindStartup, events[0].Kind)
	assert.Equal(t, KindTradeExecuted, events[1].Kind)
	require.NotNil(t, events[1].Trade)
	assert.Equal(t, "t1", events[1].Trade.ID)
	assert.Equal(t, KindPositionClosed, events[2].Kind)
	require.NotNil(t, events[2].Position)
	assert.Equal(t, position.ExitProfitTarget, events[2].Position.ExitReason)
	assert.Equal(t, KindSecurityRejected, events[3].Kind)
	assert.Equal(t, "honeypot", events[3].Reason)

	assert.Equal(t, int64(4), w.Stats().Sent)
	assert.Zero(t, w.Stats().Failed)
}

func TestWebhookFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.URL = srv.URL
	w := NewWebhook(config)

	w.Startup(ctx, "online")
	assert.Equal(t, int64(1), w.Stats().Failed)
	assert.Zero(t, w.Stats().Sent)
}

func TestWebhookDisabledWithoutURL(t *testing.T) {
	w := NewWebhook(DefaultConfig())
	w.Startup(context.Background(), "online")
	assert.Zero(t, w.Stats().Sent)
	assert.Zero(t, w.Stats().Failed)
}
