// Package main is the win-event-engine CLI entry point: it loads the
// configured rule set, brings up the engine supervisor (with hot reload
// unless disabled), and serves the metrics/WebSocket observability plane.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/config"
	"github.com/stylebending/win-event-engine/internal/engine"
	"github.com/stylebending/win-event-engine/internal/httpserver"
	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to the TOML config file")
	configDir := flag.String("config-dir", "", "directory containing the TOML config file (mutually exclusive with -config)")
	dryRun := flag.Bool("dry-run", false, "load and validate the config, then exit")
	logLevel := flag.String("log-level", "", "override the config's log_level")
	showStatus := flag.Bool("status", false, "print plugin/rule counts after startup, then continue running")
	noWatch := flag.Bool("no-watch", false, "disable the config hot-reload watch")
	flag.Parse()

	path, err := resolveConfigPath(*configFile, *configDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Engine.LogLevel = *logLevel
	}

	if *dryRun {
		fmt.Printf("config %s is valid: %d source(s), %d rule(s)\n", path, len(cfg.Sources), len(cfg.Rules))
		return nil
	}

	logger := logging.New("engine", cfg.Engine.LogLevel, cfg.Engine.LogFormat)
	collector := metrics.New()
	defer collector.Stop()

	controller, err := engine.NewController(path, !*noWatch, logger, collector)
	if err != nil {
		return err
	}

	if *showStatus {
		st := controller.Status()
		fmt.Printf("active plugins: %d, active rules: %d\n", st.ActivePlugins, st.ActiveRules)
	}

	srv := httpserver.New(collector, logger.Sub("httpserver"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx, cfg.Engine.MetricsPort)
	}()

	collector.PublishHealth("healthy")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("httpserver: unexpected exit")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("engine: shutdown did not complete cleanly")
	}

	return nil
}

func resolveConfigPath(configFile, configDir string) (string, error) {
	switch {
	case configFile != "" && configDir != "":
		return "", apperrors.Configuration("cli: -config and -config-dir are mutually exclusive")
	case configFile != "":
		return configFile, nil
	case configDir != "":
		return filepath.Join(configDir, "engine.toml"), nil
	default:
		return "", apperrors.Configuration("cli: one of -config or -config-dir is required")
	}
}
