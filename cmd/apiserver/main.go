// Command apiserver serves the discovery engine over REST.
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

	"github.com/turtacn/discovery-engine/internal/app"
	"github.com/turtacn/discovery-engine/internal/config"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/discovery-engine/internal/interfaces/http"
	"github.com/turtacn/discovery-engine/internal/interfaces/http/handlers"
	"github.com/turtacn/discovery-engine/internal/interfaces/http/middleware"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: DISCOVERY_* environment only)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	if err := run(cfg, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.Logger

	if err := c.WatchConfig(configPath); err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, newRouter(c), logger)

	logger.Info("starting discovery API server",
		logging.String("version", version),
		logging.String("commit", commit),
		logging.String("addr", cfg.Server.Addr()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
		return err
	}
	logger.Info("API server stopped")
	return nil
}

func newRouter(c *app.Container) http.Handler {
	checkers := make([]handlers.HealthChecker, 0, len(c.Checks))
	for _, ch := range c.Checks {
		checkers = append(checkers, handlers.CheckFunc{ComponentName: ch.Name, Fn: ch.Fn})
	}

	rc := httpserver.RouterConfig{
		RunHandler:     handlers.NewRunHandler(c.Engine, c.Metrics),
		SessionHandler: handlers.NewSessionHandler(c.Sessions),
		HealthHandler:  handlers.NewHealthHandler(version, checkers...),
		Logging:        middleware.DefaultLoggingConfig(),
		Recorder:       c.Metrics,
		Logger:         c.Logger,
	}
	if c.Artifacts != nil {
		rc.ArtifactHandler = handlers.NewArtifactHandler(c.Artifacts)
	}
	if origins := c.Config.Server.CORSOrigins; len(origins) > 0 {
		cors := middleware.DefaultCORSConfig()
		cors.AllowedOrigins = origins
		rc.CORS = &cors
	}
	if c.Config.Metrics.Enabled {
		rc.MetricsPath = c.Config.Metrics.Path
		rc.MetricsHandle = c.Collector.Handler()
	}
	return httpserver.NewRouter(rc)
}
