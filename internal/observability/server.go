package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Metrics and health HTTP server
// ---------------------------------------------------------------------------

// ServerConfig configures the observability endpoint.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultServerConfig returns development defaults. An empty address
// disables the server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":9090",
	}
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv    *http.Server
	health *HealthMonitor
}

// NewServer builds the HTTP server over the given gatherer and health
// monitor.
func NewServer(config ServerConfig, gatherer prometheus.Gatherer, health *HealthMonitor) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s := &Server{health: health}
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until the listener fails. http.ErrServerClosed is not an
// error here.
func (s *Server) Run() error {
	log.Info().Str("addr", s.srv.Addr).Msg("observability: serving metrics")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status != StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(report); err != nil {
		log.Warn().Err(err).Msg("observability: health encode failed")
	}
}
