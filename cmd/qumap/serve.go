package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/arbitrary-number/qumap-go/internal/infra/confloader"
	"github.com/arbitrary-number/qumap-go/internal/infra/shutdown"
	"github.com/arbitrary-number/qumap-go/internal/telemetry/logger"
	"github.com/arbitrary-number/qumap-go/internal/telemetry/metric"
)

// ServeCommand keeps the store open and serves Prometheus metrics.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Keep the store open and expose metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "metrics-address",
				Usage:   "Metrics listen address",
				EnvVars: []string{"QUMAP_METRICS_ADDRESS"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	m, cfg, err := openMap(c)
	if err != nil {
		return err
	}

	log := logger.Default()

	addr := cfg.Metrics.Address
	if c.IsSet("metrics-address") {
		addr = c.String("metrics-address")
	}

	registry, err := metric.NewRegistry(m, log.Slog())
	if err != nil {
		m.Close()
		return fmt.Errorf("build metrics registry: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metric.Handler(registry))
	server := &http.Server{Addr: addr, Handler: mux}

	// Reload the log level when the config file changes.
	var watcher *confloader.Watcher
	if path := c.String("config"); path != "" {
		watcher, err = confloader.NewWatcher(
			confloader.WithWatcherLogger(log.Slog()))
		if err != nil {
			m.Close()
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Watch(path); err != nil {
			m.Close()
			return err
		}
		watcher.OnChange(func(changed string) {
			fresh, err := loadConfig(c)
			if err != nil {
				log.Warn("config reload failed", "path", changed, "error", err)
				return
			}
			logger.SetLevel(fresh.Log.Level)
			log.Info("log level reloaded", "level", fresh.Log.Level)
		})
		watcher.StartAsync()
	}

	handler := shutdown.NewHandler(30 * time.Second)

	handler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down metrics server")
		return server.Shutdown(ctx)
	})
	if watcher != nil {
		handler.OnShutdown(func(ctx context.Context) error {
			return watcher.Stop()
		})
	}
	handler.OnShutdown(func(ctx context.Context) error {
		log.Info("closing store")
		return m.Close()
	})

	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	log.Info("store open, press Ctrl+C to stop",
		"dir", cfg.Store.Dir,
		"mode", string(m.Mode()))

	if err := handler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("stopped gracefully")
	return nil
}
