package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Health checks
// ---------------------------------------------------------------------------

// ComponentStatus is the health of one component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck probes one component. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// ComponentHealth is the latest probe result for a component.
type ComponentHealth struct {
	Name    string          `json:"name"`
	Status  ComponentStatus `json:"status"`
	Message string          `json:"message,omitempty"`
	Latency time.Duration   `json:"latency_ms"`
}

// SystemHealth aggregates component health. Status is unhealthy when
// any component is.
type SystemHealth struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     time.Duration              `json:"uptime"`
	Timestamp  time.Time                  `json:"ts"`
}

// HealthMonitor runs registered checks on demand. Status transitions
// are logged.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	last      map[string]ComponentStatus
	startTime time.Time
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		last:      make(map[string]ComponentStatus),
		startTime: time.Now(),
	}
}

// Register adds a named check.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every registered check and returns the aggregate.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for name, fn := range m.checks {
		checks[name] = fn
	}
	m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(checks))
	overall := StatusHealthy
	for name, fn := range checks {
		start := time.Now()
		err := fn(ctx)

		h := ComponentHealth{
			Name:    name,
			Status:  StatusHealthy,
			Latency: time.Since(start),
		}
		if err != nil {
			h.Status = StatusUnhealthy
			h.Message = err.Error()
			overall = StatusUnhealthy
		}
		components[name] = h
		m.logTransition(name, h)
	}

	return SystemHealth{
		Status:     overall,
		Components: components,
		Uptime:     time.Since(m.startTime),
		Timestamp:  time.Now(),
	}
}

func (m *HealthMonitor) logTransition(name string, h ComponentHealth) {
	m.mu.Lock()
	prev, seen := m.last[name]
	m.last[name] = h.Status
	m.mu.Unlock()

	if seen && prev == h.Status {
		return
	}
	ev := log.Info()
	if h.Status == StatusUnhealthy {
		ev = log.Warn()
	}
	ev.Str("check", name).Str("status", string(h.Status)).Str("message", h.Message).
		Msg("observability: health transition")
}
