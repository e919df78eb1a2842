// Command testpilot serves the browser test-run engine over REST.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/odvcencio/testpilot/pkg/api"
	"github.com/odvcencio/testpilot/pkg/browser"
	"github.com/odvcencio/testpilot/pkg/browser/adapters/chrome"
	"github.com/odvcencio/testpilot/pkg/config"
	"github.com/odvcencio/testpilot/pkg/engine"
	"github.com/odvcencio/testpilot/pkg/logging"
	"github.com/odvcencio/testpilot/pkg/metrics"
	"github.com/odvcencio/testpilot/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "testpilot:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to YAML config file")
		bind       = flag.String("bind", "", "listen address, overrides config")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}

	logger, err := logging.New(cfg.Logs.Dir)
	if err != nil {
		return fmt.Errorf("open logs: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logs.Level))

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Runs left mid-flight by a previous process can never finish; fail them
	// before accepting new work.
	orphaned, err := store.FailOrphanedRuns(time.Now())
	if err != nil {
		return fmt.Errorf("sweep orphaned runs: %w", err)
	}
	for _, id := range orphaned {
		logger.Warn(logging.CategoryRun, "run_orphaned", id, "failed run orphaned by restart", nil)
	}

	runtime := chrome.NewRuntime(chrome.Config{ExecPath: cfg.Browser.ExecPath})
	sessions := browser.NewManager(runtime)
	defer sessions.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	runs := engine.New(store, sessions, logger, collector, engine.Config{
		LocatorTimeout: time.Duration(cfg.Runs.LocatorTimeoutMs) * time.Millisecond,
		MaxConcurrent:  int64(cfg.Runs.MaxConcurrent),
		RecordVideo:    cfg.Artifacts.RecordVideo,
		ArtifactDir:    cfg.Artifacts.Dir,
		Viewport: browser.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
	})

	server := api.NewServer(api.ServerConfig{
		Address:         cfg.Server.Bind,
		Runs:            runs,
		Logger:          logger,
		Metrics:         registry,
		HeadedByDefault: !cfg.Browser.Headless,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info(logging.CategoryAPI, "server_listening", "", cfg.Server.Bind, nil)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info(logging.CategoryAPI, "shutdown", "", sig.String(), nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(logging.CategoryAPI, "shutdown_failed", "", err.Error(), nil)
	}
	runs.Drain()
	return nil
}
