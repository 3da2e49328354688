// Package middleware holds the HTTP middleware of the REST server.
package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
)

// LoggingConfig holds configuration for the request logging middleware.
type LoggingConfig struct {
	// SkipPaths are paths that are never logged.
	SkipPaths []string
	// SlowThreshold marks requests at or above it as slow.
	SlowThreshold time.Duration
}

// DefaultLoggingConfig skips probes and scrapes.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// wrappedResponseWriter captures the status code and bytes written.
type wrappedResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newWrappedResponseWriter(w http.ResponseWriter) *wrappedResponseWriter {
	return &wrappedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (w *wrappedResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *wrappedResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *wrappedResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
}

func (w *wrappedResponseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// RequestLogging logs one line per request. The request logger, tagged with
// the request id, is placed in the request context for handlers.
func RequestLogging(logger logging.Logger, config LoggingConfig) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			requestID := chimw.GetReqID(r.Context())
			if requestID == "" {
				requestID = r.Header.Get(chimw.RequestIDHeader)
			}
			reqLog := logger.With(logging.String("request_id", requestID))
			r = r.WithContext(logging.WithContext(r.Context(), reqLog))

			wrapped := newWrappedResponseWriter(w)
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start)

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = path + "?" + r.URL.RawQuery
			}
			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.String("path", path),
				logging.Int("status", wrapped.statusCode),
				logging.Duration("duration", duration),
				logging.Int64("bytes", wrapped.bytesWritten),
				logging.String("remote_addr", r.RemoteAddr),
			}
			if ua := r.UserAgent(); ua != "" {
				fields = append(fields, logging.String("user_agent", ua))
			}

			switch {
			case wrapped.statusCode >= 500:
				reqLog.Error("HTTP request completed with server error", fields...)
			case wrapped.statusCode >= 400:
				reqLog.Warn("HTTP request completed with client error", fields...)
			case config.SlowThreshold > 0 && duration >= config.SlowThreshold:
				reqLog.Warn("HTTP request completed (slow)", fields...)
			default:
				reqLog.Info("HTTP request completed", fields...)
			}
		})
	}
}
