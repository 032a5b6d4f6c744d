package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configuration file and, when configured, the system
// prompt file. Config changes re-load and re-validate the configuration;
// prompt changes hand the new prompt text to registered callbacks so the
// response cache can recompute its fingerprint.
type Watcher struct {
	mu              sync.RWMutex
	watcher         *fsnotify.Watcher
	loader          *Loader
	configPath      string
	promptPath      string
	configCallbacks []func(*Config)
	promptCallbacks []func(string)
	debounce        time.Duration
	stopCh          chan struct{}
	running         bool
}

// WatcherOption is a functional option for Watcher configuration.
type WatcherOption func(*Watcher)

// WithDebounce sets the debounce duration for file change events.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithPromptFile adds the system prompt file to the watch set.
func WithPromptFile(path string) WatcherOption {
	return func(w *Watcher) {
		w.promptPath = path
	}
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required for watching")
	}

	fswatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		watcher:    fswatcher,
		loader:     loader,
		configPath: configPath,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Watch starts monitoring the watched files for changes.
// It blocks until the context is cancelled or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.watcher.Add(w.configPath); err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", w.configPath, err)
	}
	if w.promptPath != "" {
		if err := w.watcher.Add(w.promptPath); err != nil {
			return fmt.Errorf("failed to watch prompt file %s: %w", w.promptPath, err)
		}
	}

	// Per-path debounce timers so a burst of editor writes fires once.
	timers := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.stopCh:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if t, exists := timers[path]; exists {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() {
				w.handleChange(path)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "config watcher error: %v\n", err)
		}
	}
}

// handleChange dispatches a file change to the right reload path.
func (w *Watcher) handleChange(path string) {
	if w.promptPath != "" && path == w.promptPath {
		w.reloadPrompt()
		return
	}
	w.reloadConfig()
}

// reloadConfig reloads the configuration and notifies callbacks.
func (w *Watcher) reloadConfig() {
	cfg, err := w.loader.Load(w.configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to reload config: %v\n", err)
		return
	}

	w.mu.RLock()
	callbacks := make([]func(*Config), len(w.configCallbacks))
	copy(callbacks, w.configCallbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		go runGuarded(func() { cb(cfg) })
	}
}

// reloadPrompt reads the prompt file and notifies prompt callbacks.
func (w *Watcher) reloadPrompt() {
	data, err := os.ReadFile(w.promptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read prompt file: %v\n", err)
		return
	}

	w.mu.RLock()
	callbacks := make([]func(string), len(w.promptCallbacks))
	copy(callbacks, w.promptCallbacks)
	w.mu.RUnlock()

	text := string(data)
	for _, cb := range callbacks {
		go runGuarded(func() { cb(text) })
	}
}

func runGuarded(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "watcher callback panic: %v\n", r)
		}
	}()
	fn()
}

// OnChange registers a callback for configuration changes.
// Callbacks are called concurrently in separate goroutines.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.configCallbacks = append(w.configCallbacks, callback)
}

// OnPromptChange registers a callback for system prompt changes.
func (w *Watcher) OnPromptChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.promptCallbacks = append(w.promptCallbacks, callback)
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
