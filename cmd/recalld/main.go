package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/recalld/recalld/config"
	"github.com/recalld/recalld/pkg/api"
	"github.com/recalld/recalld/pkg/api/handlers"
	"github.com/recalld/recalld/pkg/engine"
	"github.com/recalld/recalld/pkg/logger"
	"github.com/recalld/recalld/pkg/metrics"
	"github.com/recalld/recalld/pkg/telemetry/tracing"
	"github.com/recalld/recalld/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting recalld",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version, cfg.App.Environment)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Memory engine
	eng, err := engine.New(cfg, log, metricsManager)
	if err != nil {
		log.Error("Failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		log.Error("Failed to initialize memory backends", "error", err)
		os.Exit(1)
	}
	log.Info("Memory subsystem ready", "status", eng.Health().Status)

	// Feed the current system prompt into the cache epoch, then watch the
	// prompt file (and config file) for changes.
	if cfg.App.SystemPromptPath != "" {
		if prompt, err := os.ReadFile(cfg.App.SystemPromptPath); err == nil {
			eng.OnSystemPromptChanged(string(prompt))
		} else {
			log.Warn("Failed to read system prompt file",
				"path", cfg.App.SystemPromptPath, "error", err)
		}
	}
	watcher := startWatcher(ctx, cfg, eng, log)

	// HTTP API
	apiHandlers := &api.Handlers{
		Conversation: handlers.NewConversationHandler(eng, log),
		Cache:        handlers.NewCacheHandler(eng, log),
		Memory:       handlers.NewMemoryHandler(eng, log),
		Admin:        handlers.NewAdminHandler(eng, log),
		Health:       handlers.NewHealthHandler(eng),
		Metrics:      metricsManager,
	}
	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("recalld is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
	)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Error("Error stopping config watcher", "error", err)
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}
	if err := eng.Close(); err != nil {
		log.Error("Error closing memory backends", "error", err)
	}

	log.Info("recalld stopped gracefully")
}

// startWatcher wires config and prompt file watching. Returns nil when there
// is nothing to watch.
func startWatcher(ctx context.Context, cfg *config.Config, eng *engine.Engine, log logger.Logger) *config.Watcher {
	if *configPath == "" {
		return nil
	}

	opts := []config.WatcherOption{}
	if cfg.App.SystemPromptPath != "" {
		opts = append(opts, config.WithPromptFile(cfg.App.SystemPromptPath))
	}

	watcher, err := config.NewWatcher(*configPath, config.NewLoader(), opts...)
	if err != nil {
		log.Warn("Config watching disabled", "error", err)
		return nil
	}

	watcher.OnChange(func(updated *config.Config) {
		log.Info("Configuration reloaded", "config", updated.String())
		log.SetLevel(logger.ParseLevel(updated.Log.Level))
	})
	watcher.OnPromptChange(func(prompt string) {
		if eng.OnSystemPromptChanged(prompt) {
			log.Info("System prompt changed, response cache invalidated")
		}
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
	return watcher
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("recalld - Tiered Memory & Cache Service\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("recalld - Tiered memory and cache service for conversational backends\n\n")
	fmt.Printf("Usage: recalld [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  recalld                                   # Run with default config\n")
	fmt.Printf("  recalld -config config.yaml               # Use specific config file\n")
	fmt.Printf("  recalld -port 9090 -log-level debug       # Override specific options\n")
	fmt.Printf("  recalld -version                          # Print version info\n")
}
