// Package http is the REST front end of the discovery engine.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/internal/interfaces/http/handlers"
	"github.com/turtacn/discovery-engine/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware of the route tree.
// Nil handlers leave their routes unmounted.
type RouterConfig struct {
	RunHandler      *handlers.RunHandler
	SessionHandler  *handlers.SessionHandler
	ArtifactHandler *handlers.ArtifactHandler
	HealthHandler   *handlers.HealthHandler

	CORS          *middleware.CORSConfig
	Logging       middleware.LoggingConfig
	Recorder      middleware.HTTPRecorder
	MetricsPath   string
	MetricsHandle http.Handler

	Logger logging.Logger
}

// NewRouter constructs the complete HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(logger.Named("http"), cfg.Logging))
	r.Use(chimw.Recoverer)
	if cfg.Recorder != nil {
		r.Use(middleware.Metrics(cfg.Recorder))
	}
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandle != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandle)
	}

	r.Route("/api/v1", func(api chi.Router) {
		registerDiscoveryRoutes(api, cfg.RunHandler)
		registerSessionRoutes(api, cfg.SessionHandler)
		if cfg.ArtifactHandler != nil {
			api.Get("/artifacts", cfg.ArtifactHandler.Download)
		}
	})
	return r
}

func registerDiscoveryRoutes(r chi.Router, h *handlers.RunHandler) {
	if h == nil {
		return
	}
	r.Get("/diseases/suggest", h.SuggestDiseases)
	r.Get("/diseases/{name}/proteins", h.ProteinsForDisease)

	r.Route("/runs", func(rr chi.Router) {
		rr.Get("/", h.List)
		rr.Post("/", h.Start)

		rr.Route("/{id}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Delete("/", h.Close)
			item.Post("/resume", h.Resume)
			item.Post("/disease", h.SelectDisease)
			item.Put("/proteins", h.SetProteins)
			item.Post("/proteins/{proteinID}/toggle", h.ToggleProtein)
			item.Post("/proteins/{proteinID}/dock", h.SelectDockingProtein)
			item.Post("/next", h.Next)
			item.Post("/back", h.Back)
			item.Post("/reset", h.Reset)
			item.Get("/aggregation", h.Aggregation)
			item.Post("/generate", h.Generate)
			item.Post("/candidates/{key}/select", h.SelectCandidate)
			item.Post("/dock", h.Dock)
			item.Post("/save", h.Save)
		})
	})
}

func registerSessionRoutes(r chi.Router, h *handlers.SessionHandler) {
	if h == nil {
		return
	}
	r.Route("/sessions", func(sr chi.Router) {
		sr.Get("/", h.List)
		sr.Route("/{id}", func(item chi.Router) {
			item.Get("/", h.Get)
			item.Delete("/", h.Delete)
			item.Post("/rename", h.Rename)
		})
	})
}
