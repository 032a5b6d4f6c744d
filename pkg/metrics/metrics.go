// Package metrics provides Prometheus metrics instrumentation for recalld.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for recalld.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Cache metrics
	cacheOps *prometheus.CounterVec

	// Memory metrics
	queryDuration   *prometheus.HistogramVec
	fragmentsStored *prometheus.CounterVec
	classifications *prometheus.CounterVec

	// Backend metrics
	backendHealth *prometheus.GaugeVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	QueryDurationBuckets []float64
	HTTPDurationBuckets  []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Port:                 9091,
		Path:                 "/metrics",
		QueryDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		HTTPDurationBuckets:  []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initMemoryMetrics(cfg)
	m.initHTTPMetrics(cfg)

	return m
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

func (m *Manager) initMemoryMetrics(cfg Config) {
	m.cacheOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalld_cache_operations_total",
			Help: "Response cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recalld_memory_query_duration_seconds",
			Help:    "Semantic memory query duration in seconds",
			Buckets: cfg.QueryDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.fragmentsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalld_fragments_stored_total",
			Help: "Fragments written to semantic memory by source type",
		},
		[]string{"source_type"},
	)

	m.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recalld_classifications_total",
			Help: "Turn classifications by label",
		},
		[]string{"label"},
	)

	m.backendHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recalld_backend_healthy",
			Help: "Backend health by backend name (1 healthy, 0 unhealthy)",
		},
		[]string{"backend"},
	)

	m.registry.MustRegister(m.cacheOps)
	m.registry.MustRegister(m.queryDuration)
	m.registry.MustRegister(m.fragmentsStored)
	m.registry.MustRegister(m.classifications)
	m.registry.MustRegister(m.backendHealth)
}

// RecordCacheOp records one response cache operation.
func (m *Manager) RecordCacheOp(operation, result string) {
	if !m.enabled {
		return
	}
	m.cacheOps.WithLabelValues(operation, result).Inc()
}

// RecordQueryDuration records a semantic memory query.
func (m *Manager) RecordQueryDuration(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.queryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordFragmentStored records a fragment write.
func (m *Manager) RecordFragmentStored(sourceType string) {
	if !m.enabled {
		return
	}
	m.fragmentsStored.WithLabelValues(sourceType).Inc()
}

// RecordClassification records a turn classification.
func (m *Manager) RecordClassification(label string) {
	if !m.enabled {
		return
	}
	m.classifications.WithLabelValues(label).Inc()
}

// RecordBackendHealth records a backend health probe result.
func (m *Manager) RecordBackendHealth(backend string, healthy bool) {
	if !m.enabled {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.backendHealth.WithLabelValues(backend).Set(v)
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}
