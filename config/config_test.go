package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Test App defaults
	if cfg.App.Name != "recalld" {
		t.Errorf("expected app name 'recalld', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected environment 'development', got %s", cfg.App.Environment)
	}

	// Test Server defaults
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}

	// Test Log defaults
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected log format 'json', got %s", cfg.Log.Format)
	}

	// Test Storage defaults
	if cfg.Storage.Type != "memory" {
		t.Errorf("expected storage type 'memory', got %s", cfg.Storage.Type)
	}
	if cfg.Storage.OpTimeout != 3*time.Second {
		t.Errorf("expected storage op_timeout 3s, got %v", cfg.Storage.OpTimeout)
	}

	// Test Cache defaults
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected cache ttl 1h, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Version == "" {
		t.Error("expected non-empty cache version")
	}

	// Test Memory defaults
	if cfg.Memory.TopK != 5 {
		t.Errorf("expected memory top_k 5, got %d", cfg.Memory.TopK)
	}
	if cfg.Memory.RelevanceFloor != 0.05 {
		t.Errorf("expected relevance_floor 0.05, got %f", cfg.Memory.RelevanceFloor)
	}
	if cfg.Memory.CorrectionDamping != 0.04 {
		t.Errorf("expected correction_damping 0.04, got %f", cfg.Memory.CorrectionDamping)
	}
	if cfg.Memory.CanonicalBoost != 1.15 {
		t.Errorf("expected canonical_boost 1.15, got %f", cfg.Memory.CanonicalBoost)
	}

	// Test History defaults
	if cfg.History.MaxTurns != 20 {
		t.Errorf("expected history max_turns 20, got %d", cfg.History.MaxTurns)
	}

	// Test Bootstrap defaults
	if cfg.Bootstrap.Attempts != 3 {
		t.Errorf("expected bootstrap attempts 3, got %d", cfg.Bootstrap.Attempts)
	}
	if cfg.Bootstrap.BackoffBase != 200*time.Millisecond {
		t.Errorf("expected backoff_base 200ms, got %v", cfg.Bootstrap.BackoffBase)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "missing app name",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.App.Name = ""
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid port",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Server.Port = 99999
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid log level",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Log.Level = "trace"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid environment",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.App.Environment = "invalid"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid storage type",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Storage.Type = "dynamo"
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "relevance floor out of range",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Memory.RelevanceFloor = 1.5
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "canonical boost below one",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Memory.CanonicalBoost = 0.9
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "zero history window",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.History.MaxTurns = 0
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "redis storage without address",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Storage.Type = "redis"
				cfg.Storage.Redis.Address = ""
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "damping above relevance floor",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Memory.CorrectionDamping = 0.5
				return cfg
			}(),
			wantErr: true,
		},
		{
			name: "invalid embedding provider",
			cfg: func() *Config {
				cfg := DefaultConfig()
				cfg.Embedding.Provider = "openai"
				return cfg
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_LoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `app:
  name: recalld-test
  environment: staging
server:
  port: 9000
  read_timeout: 45s
cache:
  ttl: 30m
  version: "3.1.0"
memory:
  top_k: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.App.Name != "recalld-test" {
		t.Errorf("expected app name 'recalld-test', got %s", cfg.App.Name)
	}
	if cfg.App.Environment != "staging" {
		t.Errorf("expected environment 'staging', got %s", cfg.App.Environment)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 45*time.Second {
		t.Errorf("expected read_timeout 45s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected cache ttl 30m, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.Version != "3.1.0" {
		t.Errorf("expected cache version '3.1.0', got %s", cfg.Cache.Version)
	}
	if cfg.Memory.TopK != 8 {
		t.Errorf("expected top_k 8, got %d", cfg.Memory.TopK)
	}

	// Untouched keys keep their defaults, including siblings of keys the
	// file did set.
	if cfg.Log.Level != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Log.Level)
	}
	if cfg.History.MaxTurns != 20 {
		t.Errorf("expected default max_turns 20, got %d", cfg.History.MaxTurns)
	}
	if cfg.Memory.FetchMultiplier != 3 {
		t.Errorf("expected default fetch_multiplier 3, got %d", cfg.Memory.FetchMultiplier)
	}
	if cfg.Memory.RelevanceFloor != 0.05 {
		t.Errorf("expected default relevance_floor 0.05, got %f", cfg.Memory.RelevanceFloor)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected default write_timeout 30s, got %v", cfg.Server.WriteTimeout)
	}
}

func TestLoader_PartialSectionKeepsSiblingDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// One key per section; every sibling must survive with its default.
	content := `memory:
  top_k: 8
app:
  debug: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Memory.TopK != 8 {
		t.Errorf("expected top_k 8, got %d", cfg.Memory.TopK)
	}
	if cfg.Memory.FetchMultiplier != 3 {
		t.Errorf("expected sibling default fetch_multiplier 3, got %d", cfg.Memory.FetchMultiplier)
	}
	if cfg.Memory.CorrectionDamping != 0.04 {
		t.Errorf("expected sibling default correction_damping 0.04, got %f", cfg.Memory.CorrectionDamping)
	}
	if !cfg.App.Debug {
		t.Error("expected app.debug true")
	}
	if cfg.App.Environment != "development" {
		t.Errorf("expected sibling default environment 'development', got %s", cfg.App.Environment)
	}
	if cfg.App.Name != "recalld" {
		t.Errorf("expected sibling default app name 'recalld', got %s", cfg.App.Name)
	}
}

func TestLoader_LoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load("/nonexistent/config.yaml", nil); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "config.toml")
		if err := os.WriteFile(path, []byte("port = 8080"), 0644); err != nil {
			t.Fatalf("failed to write temp config: %v", err)
		}
		if _, err := Load(path, nil); err == nil {
			t.Fatal("expected error for unsupported format")
		}
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		tmpDir := t.TempDir()
		path := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(path, []byte("server:\n  port: 99999\n"), 0644); err != nil {
			t.Fatalf("failed to write temp config: %v", err)
		}
		if _, err := Load(path, nil); err == nil {
			t.Fatal("expected validation error for out-of-range port")
		}
	})
}

func TestLoader_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	t.Setenv("RECALLD_SERVER__PORT", "9999")
	t.Setenv("RECALLD_LOG__LEVEL", "debug")
	t.Setenv("RECALLD_MEMORY__RELEVANCE_FLOOR", "0.2")

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Env beats the file.
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected env log level 'debug', got %s", cfg.Log.Level)
	}
	if cfg.Memory.RelevanceFloor != 0.2 {
		t.Errorf("expected env relevance_floor 0.2, got %f", cfg.Memory.RelevanceFloor)
	}
}

func TestLoader_Overrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	t.Setenv("RECALLD_SERVER__PORT", "9999")

	// CLI overrides beat both the file and the environment.
	cfg, err := Load(configPath, map[string]interface{}{
		"server.port": 7777,
		"app.debug":   true,
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected override port 7777, got %d", cfg.Server.Port)
	}
	if !cfg.App.Debug {
		t.Error("expected app.debug true from override")
	}
}
