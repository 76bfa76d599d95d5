// Package balancer distributes requests across the backends configured
// for each model. Selection is round-robin over healthy backends, with
// passive health tracking: callers report failures, and failed backends
// are retried after a recovery timeout.
package balancer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vermittler-dev/vermittler/pkg/config"
)

// DefaultRecoveryTimeout is how long a backend stays marked unhealthy
// before it becomes eligible again.
const DefaultRecoveryTimeout = 30 * time.Second

// Backend pairs a configured backend with its health state.
type Backend struct {
	// Config is the static backend configuration. Immutable after creation.
	Config config.Backend

	mu          sync.Mutex
	healthy     bool
	lastChecked time.Time
	failCount   int
}

// Healthy reports whether the backend is currently eligible.
func (b *Backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

// MarkHealthy resets the backend after a successful request.
func (b *Backend) MarkHealthy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = true
	b.lastChecked = time.Now()
	b.failCount = 0
}

// MarkUnhealthy records a failed request. The backend is skipped by
// Pick and deprioritized by Candidates until the recovery sweep
// restores it.
func (b *Backend) MarkUnhealthy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = false
	b.lastChecked = time.Now()
	b.failCount++
}

// FailCount returns the number of consecutive failures.
func (b *Backend) FailCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failCount
}

// recover restores an unhealthy backend whose timeout has elapsed.
func (b *Backend) recover(timeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.healthy && time.Since(b.lastChecked) > timeout {
		b.healthy = true
		return true
	}
	return false
}

// group holds the backends serving one model plus the rotation cursor.
type group struct {
	backends []*Backend
	cursor   atomic.Uint64
}

// Balancer routes model names to backends.
type Balancer struct {
	groups          map[string]*group
	recoveryTimeout time.Duration
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithRecoveryTimeout overrides how long failed backends stay out of
// rotation.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Balancer) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// New builds a balancer from the configured model map. The groups map
// is fixed at construction; only health state changes afterwards.
func New(models map[string]config.ModelConfig, opts ...Option) *Balancer {
	b := &Balancer{
		groups:          make(map[string]*group, len(models)),
		recoveryTimeout: DefaultRecoveryTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}

	for model, mc := range models {
		g := &group{backends: make([]*Backend, len(mc.Backends))}
		for i, bc := range mc.Backends {
			g.backends[i] = &Backend{Config: bc, healthy: true}
		}
		b.groups[model] = g
	}
	return b
}

// HasModel reports whether any backends are configured for the model.
func (b *Balancer) HasModel(model string) bool {
	_, ok := b.groups[model]
	return ok
}

// Models returns the configured model names in sorted order.
func (b *Balancer) Models() []string {
	models := make([]string, 0, len(b.groups))
	for model := range b.groups {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}

// Pick returns the next healthy backend for the model, advancing the
// round-robin cursor. If every backend is unhealthy it returns the
// first one so the caller can still attempt the request. Returns nil
// for unknown models.
func (b *Balancer) Pick(model string) *Backend {
	g, ok := b.groups[model]
	if !ok || len(g.backends) == 0 {
		return nil
	}

	n := uint64(len(g.backends))
	for i := uint64(0); i < n; i++ {
		backend := g.backends[g.cursor.Add(1)%n]
		if backend.Healthy() {
			return backend
		}
	}

	// Everything is down. Hand out the first backend anyway so the
	// request fails with the backend's error rather than a synthetic one.
	return g.backends[0]
}

// Candidates returns the model's backends in failover order: starting
// at the current cursor position, healthy backends first. Returns nil
// for unknown models.
func (b *Balancer) Candidates(model string) []*Backend {
	g, ok := b.groups[model]
	if !ok || len(g.backends) == 0 {
		return nil
	}

	n := len(g.backends)
	start := int(g.cursor.Add(1) % uint64(n))

	rotated := make([]*Backend, 0, n)
	for i := 0; i < n; i++ {
		rotated = append(rotated, g.backends[(start+i)%n])
	}

	// Stable partition: healthy backends keep their rotation order and
	// go ahead of unhealthy ones.
	ordered := make([]*Backend, 0, n)
	for _, backend := range rotated {
		if backend.Healthy() {
			ordered = append(ordered, backend)
		}
	}
	for _, backend := range rotated {
		if !backend.Healthy() {
			ordered = append(ordered, backend)
		}
	}
	return ordered
}

// StartRecovery runs a background sweep that restores unhealthy
// backends after the recovery timeout. It returns immediately; the
// sweep stops when ctx is cancelled.
func (b *Balancer) StartRecovery(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

func (b *Balancer) sweep() {
	for model, g := range b.groups {
		for _, backend := range g.backends {
			if backend.recover(b.recoveryTimeout) {
				slog.Info("backend restored to rotation",
					"model", model,
					"endpoint", backend.Config.Endpoint,
				)
			}
		}
	}
}
