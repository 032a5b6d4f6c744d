package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestNewWatcher(t *testing.T) {
	loader := NewLoader()

	t.Run("valid config path", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("app:\n  name: test\n"), 0644); err != nil {
			t.Fatalf("failed to create temp config: %v", err)
		}

		watcher, err := NewWatcher(configPath, loader)
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}
		defer watcher.Stop()

		if watcher == nil {
			t.Fatal("expected non-nil watcher")
		}
	})

	t.Run("empty config path", func(t *testing.T) {
		_, err := NewWatcher("", loader)
		if err == nil {
			t.Fatal("expected error for empty config path")
		}
	})

	t.Run("with debounce option", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")
		if err := os.WriteFile(configPath, []byte("app:\n  name: test\n"), 0644); err != nil {
			t.Fatalf("failed to create temp config: %v", err)
		}

		watcher, err := NewWatcher(configPath, loader, WithDebounce(100*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}
		defer watcher.Stop()

		if watcher.debounce != 100*time.Millisecond {
			t.Errorf("expected debounce 100ms, got %v", watcher.debounce)
		}
	})
}

func TestWatcher_Watch(t *testing.T) {
	t.Run("detects config changes", func(t *testing.T) {
		loader := NewLoader()
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		initialContent := `app:
  name: recalld-test
server:
  port: 8080
log:
  level: info
  format: json
`
		if err := os.WriteFile(configPath, []byte(initialContent), 0644); err != nil {
			t.Fatalf("failed to create temp config: %v", err)
		}

		watcher, err := NewWatcher(configPath, loader, WithDebounce(50*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var mu sync.Mutex
		var received *Config

		watcher.OnChange(func(cfg *Config) {
			mu.Lock()
			defer mu.Unlock()
			received = cfg
		})

		watchErr := make(chan error, 1)
		go func() {
			watchErr <- watcher.Watch(ctx)
		}()

		// Give the watcher time to register the file.
		time.Sleep(100 * time.Millisecond)

		updatedContent := `app:
  name: recalld-test
server:
  port: 8080
log:
  level: debug
  format: json
`
		if err := os.WriteFile(configPath, []byte(updatedContent), 0644); err != nil {
			t.Fatalf("failed to update config: %v", err)
		}

		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			got := received
			mu.Unlock()
			if got != nil {
				if got.Log.Level != "debug" {
					t.Errorf("expected reloaded log level 'debug', got %s", got.Log.Level)
				}
				watcher.Stop()
				<-watchErr
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
		t.Fatal("config change callback was not called")
	})

	t.Run("invalid reload keeps callbacks silent", func(t *testing.T) {
		loader := NewLoader()
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
			t.Fatalf("failed to create temp config: %v", err)
		}

		watcher, err := NewWatcher(configPath, loader, WithDebounce(50*time.Millisecond))
		if err != nil {
			t.Fatalf("NewWatcher failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var called sync.Map
		watcher.OnChange(func(cfg *Config) {
			called.Store("config", true)
		})

		watchErr := make(chan error, 1)
		go func() {
			watchErr <- watcher.Watch(ctx)
		}()
		time.Sleep(100 * time.Millisecond)

		// Out-of-range port fails validation, so no callback fires.
		if err := os.WriteFile(configPath, []byte("server:\n  port: 99999\n"), 0644); err != nil {
			t.Fatalf("failed to update config: %v", err)
		}

		time.Sleep(500 * time.Millisecond)
		if _, ok := called.Load("config"); ok {
			t.Error("callback fired for a config that fails validation")
		}
		watcher.Stop()
		<-watchErr
	})
}

func TestWatcher_PromptFile(t *testing.T) {
	loader := NewLoader()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	promptPath := filepath.Join(tmpDir, "prompt.txt")

	if err := os.WriteFile(configPath, []byte("app:\n  name: recalld-test\n"), 0644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}
	if err := os.WriteFile(promptPath, []byte("You are a helpful assistant."), 0644); err != nil {
		t.Fatalf("failed to create prompt file: %v", err)
	}

	watcher, err := NewWatcher(configPath, loader,
		WithDebounce(50*time.Millisecond),
		WithPromptFile(promptPath))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var gotPrompt string

	watcher.OnPromptChange(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		gotPrompt = text
	})

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- watcher.Watch(ctx)
	}()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(promptPath, []byte("You are a terse assistant."), 0644); err != nil {
		t.Fatalf("failed to update prompt file: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotPrompt
		mu.Unlock()
		if got != "" {
			if got != "You are a terse assistant." {
				t.Errorf("unexpected prompt text: %q", got)
			}
			watcher.Stop()
			<-watchErr
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("prompt change callback was not called")
}

func TestWatcher_Stop(t *testing.T) {
	loader := NewLoader()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("app:\n  name: test\n"), 0644); err != nil {
		t.Fatalf("failed to create temp config: %v", err)
	}

	watcher, err := NewWatcher(configPath, loader)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(context.Background())
	}()
	time.Sleep(100 * time.Millisecond)

	if !watcher.IsRunning() {
		t.Error("expected watcher to be running")
	}
	if err := watcher.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error after Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after Stop")
	}

	if watcher.IsRunning() {
		t.Error("expected watcher to be stopped")
	}
}
