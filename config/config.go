// Package config provides configuration management for recalld.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for recalld.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the key-value backend configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Vector is the vector store configuration.
	Vector VectorConfig `mapstructure:"vector"`

	// Embedding is the embedding provider configuration.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Cache is the response cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// History is the chat history configuration.
	History HistoryConfig `mapstructure:"history"`

	// Memory is the semantic memory and ranking configuration.
	Memory MemoryConfig `mapstructure:"memory"`

	// Bootstrap is the backend initialization configuration.
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`

	// SystemPromptPath is the file holding the current system prompt text.
	// Changes to this file invalidate the response cache.
	SystemPromptPath string `mapstructure:"system_prompt_path"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds key-value backend settings.
type StorageConfig struct {
	// Type is the key-value backend (memory, redis, badger).
	Type string `mapstructure:"type" validate:"oneof=memory redis badger"`

	// OpTimeout bounds every key-value operation.
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	// Dimension is the embedding vector dimension.
	Dimension int `mapstructure:"dimension" validate:"min=1"`

	// PersistPath is an optional directory for on-disk persistence.
	// Empty means fully in-memory.
	PersistPath string `mapstructure:"persist_path"`

	// OpTimeout bounds every vector store operation.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding implementation (local, remote).
	Provider string `mapstructure:"provider" validate:"oneof=local remote"`

	// Endpoint is the remote model server URL (remote provider only).
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single embedding call.
	Timeout time.Duration `mapstructure:"timeout"`

	// RequestsPerSecond rate-limits calls to the remote model server.
	// Zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	// TTL is the default time-to-live for cached responses.
	TTL time.Duration `mapstructure:"ttl"`

	// Version tags every cache entry; bumping it invalidates all prior
	// entries at read time without scanning.
	Version string `mapstructure:"version"`
}

// HistoryConfig holds chat history settings.
type HistoryConfig struct {
	// MaxTurns caps the per-user history list. Oldest turns are evicted first.
	MaxTurns int `mapstructure:"max_turns" validate:"min=1"`
}

// MemoryConfig holds semantic memory and correction-aware ranking settings.
type MemoryConfig struct {
	// TopK is the default number of fragments returned by a query.
	TopK int `mapstructure:"top_k" validate:"min=1"`

	// FetchMultiplier over-fetches candidates before ranking (TopK * multiplier).
	FetchMultiplier int `mapstructure:"fetch_multiplier" validate:"min=1"`

	// RelevanceFloor is the absolute minimum similarity score a fragment
	// must reach to be surfaced. Not a tie-break.
	RelevanceFloor float64 `mapstructure:"relevance_floor" validate:"gte=0,lte=1"`

	// CorrectionDamping multiplies the score of fragments superseded by a
	// correction, pushing them below the relevance floor.
	CorrectionDamping float64 `mapstructure:"correction_damping" validate:"gte=0,lte=1"`

	// CanonicalBoost multiplies the score of fragments carrying the
	// corrected value so they win ties against stale ones.
	CanonicalBoost float64 `mapstructure:"canonical_boost" validate:"gte=1"`
}

// BootstrapConfig holds backend initialization settings.
type BootstrapConfig struct {
	// Attempts is the per-backend retry budget.
	Attempts int `mapstructure:"attempts" validate:"min=1"`

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration `mapstructure:"backoff_base"`

	// ProbeTimeout bounds a single backend probe.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the span exporter (otlp).
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds exporter calls.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler selects the sampling strategy (ratio, always_on, always_off).
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := ValidateWithDetails(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
