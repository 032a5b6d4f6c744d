package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:             "recalld",
			Version:          "dev",
			Environment:      "development",
			Debug:            false,
			SystemPromptPath: "",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type:      "memory",
			OpTimeout: 3 * time.Second,
			Redis: RedisConfig{
				Address:  "localhost:6379",
				Password: "",
				DB:       0,
			},
			Badger: BadgerConfig{
				Path:       "./data/badger",
				SyncWrites: false,
			},
		},
		Vector: VectorConfig{
			Dimension:   256,
			PersistPath: "",
			OpTimeout:   5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:          "local",
			Endpoint:          "http://localhost:8090/embed",
			Timeout:           5 * time.Second,
			RequestsPerSecond: 0,
		},
		Cache: CacheConfig{
			TTL:     time.Hour,
			Version: "2.0.0",
		},
		History: HistoryConfig{
			MaxTurns: 20,
		},
		Memory: MemoryConfig{
			TopK:              5,
			FetchMultiplier:   3,
			RelevanceFloor:    0.05,
			CorrectionDamping: 0.04,
			CanonicalBoost:    1.15,
		},
		Bootstrap: BootstrapConfig{
			Attempts:     3,
			BackoffBase:  200 * time.Millisecond,
			ProbeTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
