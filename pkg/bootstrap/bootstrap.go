// Package bootstrap probes the memory subsystem's backends at startup and
// tracks their health. The key-value tier is load-bearing; the vector and
// embedding tiers can fail without taking the service down, which degrades
// recall instead of refusing traffic.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the aggregate readiness of the subsystem.
type Status string

const (
	StatusNotReady Status = "not_ready"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Backend names one probeable dependency.
type Backend string

const (
	BackendKeyValue  Backend = "keyvalue"
	BackendVector    Backend = "vector"
	BackendEmbedding Backend = "embedding"
)

// ErrNotInitialized is returned by EnsureInitialized while the key-value
// tier is still unreachable.
var ErrNotInitialized = errors.New("bootstrap: key-value backend unavailable")

// Pinger is the minimal health surface each backend exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BackendHealth is one backend's probe result.
type BackendHealth struct {
	Healthy   bool      `json:"healthy"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Attempts  int       `json:"attempts"`
}

// Health is a snapshot of the whole subsystem.
type Health struct {
	Status   Status                    `json:"status"`
	Backends map[Backend]BackendHealth `json:"backends"`
}

// Config tunes probing behavior.
type Config struct {
	// Attempts per backend before its failure is accepted.
	Attempts int

	// BackoffBase is the delay before the second attempt; it doubles per
	// retry.
	BackoffBase time.Duration

	// ProbeTimeout bounds each individual ping.
	ProbeTimeout time.Duration
}

type initLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type healthRecorder interface {
	RecordBackendHealth(backend string, healthy bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendHealth(string, bool) {}

// Initializer probes backends with retry and exposes the aggregate status.
type Initializer struct {
	backends map[Backend]Pinger
	cfg      Config
	logger   initLogger
	metrics  healthRecorder

	mu     sync.RWMutex
	health map[Backend]BackendHealth
	status Status
}

// Option configures an Initializer.
type Option func(*Initializer)

// WithMetrics attaches a metrics recorder.
func WithMetrics(r healthRecorder) Option {
	return func(i *Initializer) {
		if r != nil {
			i.metrics = r
		}
	}
}

// New creates an Initializer over the given backends. Zero-value config
// fields get working defaults.
func New(backends map[Backend]Pinger, cfg Config, log initLogger, opts ...Option) *Initializer {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	i := &Initializer{
		backends: backends,
		cfg:      cfg,
		logger:   log,
		metrics:  nopRecorder{},
		health:   make(map[Backend]BackendHealth, len(backends)),
		status:   StatusNotReady,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Initialize probes every backend concurrently, each with its own retry
// schedule, then folds the results into an aggregate status. It returns an
// error only when the key-value tier never came up.
func (i *Initializer) Initialize(ctx context.Context) error {
	results := make(map[Backend]BackendHealth, len(i.backends))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for name, backend := range i.backends {
		wg.Add(1)
		go func(name Backend, backend Pinger) {
			defer wg.Done()
			h := i.probeWithRetry(ctx, name, backend)
			mu.Lock()
			results[name] = h
			mu.Unlock()
		}(name, backend)
	}
	wg.Wait()

	return i.apply(results)
}

// EnsureInitialized re-probes only the backends that were unhealthy at the
// last check. Healthy backends are not re-pinged; steady-state traffic
// should not pay a probe tax.
func (i *Initializer) EnsureInitialized(ctx context.Context) error {
	i.mu.RLock()
	stale := make(map[Backend]Pinger)
	for name, backend := range i.backends {
		if h, ok := i.health[name]; !ok || !h.Healthy {
			stale[name] = backend
		}
	}
	i.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}

	results := make(map[Backend]BackendHealth, len(stale))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, backend := range stale {
		wg.Add(1)
		go func(name Backend, backend Pinger) {
			defer wg.Done()
			h := i.probe(ctx, backend)
			h.Attempts = 1
			mu.Lock()
			results[name] = h
			mu.Unlock()
		}(name, backend)
	}
	wg.Wait()

	i.mu.Lock()
	for name, h := range results {
		i.health[name] = h
		i.metrics.RecordBackendHealth(string(name), h.Healthy)
	}
	i.recomputeStatusLocked()
	status := i.status
	i.mu.Unlock()

	if status == StatusFailed {
		return ErrNotInitialized
	}
	return nil
}

// Snapshot returns the current health view.
func (i *Initializer) Snapshot() Health {
	i.mu.RLock()
	defer i.mu.RUnlock()

	backends := make(map[Backend]BackendHealth, len(i.health))
	for name, h := range i.health {
		backends[name] = h
	}
	return Health{Status: i.status, Backends: backends}
}

// Status returns the aggregate status.
func (i *Initializer) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Healthy reports whether one backend is currently usable.
func (i *Initializer) Healthy(backend Backend) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.health[backend].Healthy
}

func (i *Initializer) probeWithRetry(ctx context.Context, name Backend, backend Pinger) BackendHealth {
	var h BackendHealth
	backoff := i.cfg.BackoffBase

	for attempt := 1; attempt <= i.cfg.Attempts; attempt++ {
		h = i.probe(ctx, backend)
		h.Attempts = attempt
		if h.Healthy {
			return h
		}

		i.logger.Warn("backend probe failed",
			"backend", name, "attempt", attempt, "error", h.LastError)

		if attempt == i.cfg.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			h.LastError = ctx.Err().Error()
			return h
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return h
}

func (i *Initializer) probe(ctx context.Context, backend Pinger) BackendHealth {
	probeCtx, cancel := context.WithTimeout(ctx, i.cfg.ProbeTimeout)
	defer cancel()

	h := BackendHealth{CheckedAt: time.Now().UTC()}
	if err := backend.Ping(probeCtx); err != nil {
		h.LastError = err.Error()
		return h
	}
	h.Healthy = true
	return h
}

func (i *Initializer) apply(results map[Backend]BackendHealth) error {
	i.mu.Lock()
	for name, h := range results {
		i.health[name] = h
		i.metrics.RecordBackendHealth(string(name), h.Healthy)
	}
	i.recomputeStatusLocked()
	status := i.status
	i.mu.Unlock()

	switch status {
	case StatusHealthy:
		i.logger.Info("memory subsystem initialized", "status", status)
	case StatusDegraded:
		i.logger.Warn("memory subsystem degraded, semantic recall disabled", "status", status)
	case StatusFailed:
		i.logger.Error("memory subsystem failed to initialize", "status", status)
		return ErrNotInitialized
	}
	return nil
}

// recomputeStatusLocked derives the aggregate: a dead key-value tier is
// fatal, anything else merely degrades.
func (i *Initializer) recomputeStatusLocked() {
	if h, ok := i.health[BackendKeyValue]; ok && !h.Healthy {
		i.status = StatusFailed
		return
	}
	for _, h := range i.health {
		if !h.Healthy {
			i.status = StatusDegraded
			return
		}
	}
	i.status = StatusHealthy
}
