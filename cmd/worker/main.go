// Command worker consumes the workflow event stream: it projects per-session
// activity into Redis and exports consumption metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/discovery-engine/internal/app"
	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/discovery-engine/internal/interfaces/http"
	"github.com/turtacn/discovery-engine/internal/interfaces/http/handlers"
)

var version = "dev"

const drainTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: DISCOVERY_* environment only)")
	workerCount := flag.Int("workers", 0, "number of concurrent workers (overrides config)")
	group := flag.String("group", "", "consumer group (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *workerCount > 0 {
		cfg.Worker.Workers = *workerCount
	}
	if *group != "" {
		cfg.Worker.GroupID = *group
	}

	if err := run(cfg, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := app.BuildWorker(ctx, cfg)
	if err != nil {
		return err
	}
	defer w.Close()
	logger := w.Logger

	if err := w.WatchConfig(configPath); err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}

	health := httpserver.NewServer(httpserver.ServerConfig{Addr: cfg.Worker.HealthAddr}, healthRouter(w), logger)
	go func() {
		logger.Info("health server listening", logging.String("addr", cfg.Worker.HealthAddr))
		if err := health.Start(); err != nil {
			logger.Error("health server error", logging.Err(err))
		}
	}()

	logger.Info("starting discovery worker",
		logging.String("version", version),
		logging.String("topic", cfg.Kafka.Topic),
		logging.String("group", cfg.Worker.GroupID))

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		logger.Info("received shutdown signal, draining workers")
		select {
		case runErr = <-done:
		case <-time.After(drainTimeout):
			logger.Warn("drain timeout exceeded, forcing exit")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Stop(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}
	stats := w.Pool.Stats()
	logger.Info("discovery worker stopped",
		logging.Int64("processed", stats.Processed),
		logging.Int64("failed", stats.Failed))
	return runErr
}

func healthRouter(w *app.Worker) http.Handler {
	checkers := make([]handlers.HealthChecker, 0, len(w.Checks))
	for _, ch := range w.Checks {
		checkers = append(checkers, handlers.CheckFunc{ComponentName: ch.Name, Fn: ch.Fn})
	}
	h := handlers.NewHealthHandler(version, checkers...)

	r := chi.NewRouter()
	r.Get("/healthz", h.Liveness)
	r.Get("/readyz", h.Readiness)
	r.Get("/stats", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(w.Pool.Stats())
	})
	if w.Config.Metrics.Enabled {
		r.Handle(w.Config.Metrics.Path, w.Collector.Handler())
	}
	return r
}
