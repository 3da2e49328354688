package http

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// ServerConfig holds listener tunables.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps http.Server with logging and graceful shutdown.
type Server struct {
	srv             *http.Server
	router          http.Handler
	shutdownTimeout time.Duration
	logger          logging.Logger
}

func NewServer(cfg ServerConfig, router http.Handler, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		router:          router,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.Named("server"),
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start listens and serves until Stop. A clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", logging.String("addr", ln.Addr().String()))
	if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}
