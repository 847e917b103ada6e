package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.PairsSeen.Inc()
	m.PairsSeen.Inc()
	m.PairsAccepted.Inc()
	m.RecordValidation(true, 10*time.Millisecond)
	m.RecordValidation(false, 10*time.Millisecond)
	m.RecordTrade("buy", nil)
	m.RecordTrade("sell", errors.New("revert"))
	m.OpenPositions.Set(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PairsSeen))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("passed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TradesTotal.WithLabelValues("buy", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TradesTotal.WithLabelValues("sell", "error")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.OpenPositions))
}

func TestObserveRPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveRPC("eth_call", 5*time.Millisecond, nil)
	m.ObserveRPC("eth_call", 5*time.Millisecond, errors.New("timeout"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call")))
}

func TestHealthEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("test", reg)
	health := NewHealthMonitor()
	health.Register("rpc", func(ctx context.Context) error { return nil })

	srv := NewServer(DefaultServerConfig(), reg, health)

	t.Run("healthy", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"healthy"`)
	})

	t.Run("unhealthy component flips status", func(t *testing.T) {
		health.Register("db", func(ctx context.Context) error { return errors.New("down") })
		rr := httptest.NewRecorder()
		srv.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), `"down"`)
	})
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.PairsSeen.Inc()

	health := NewHealthMonitor()
	srv := NewServer(DefaultServerConfig(), reg, health)

	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sb strings.Builder
	_, err = io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "test_monitor_pairs_seen_total 1")
}
