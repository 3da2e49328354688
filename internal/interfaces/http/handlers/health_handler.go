package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// HealthChecker is a dependency the readiness probe pings.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc struct {
	ComponentName string
	Fn            func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.ComponentName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	timeout  time.Duration
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		timeout:  5 * time.Second,
	}
}

// LivenessResponse is the response for liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the response for readiness probe.
type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

// ComponentCheck represents the health status of a single component.
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness handles GET /healthz. It never touches dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness handles GET /readyz: 200 when every checker passes, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	components := h.checkAll(ctx)
	resp := ReadinessResponse{Status: "ready", Components: components}
	code := http.StatusOK
	for _, c := range components {
		if c.Status != "healthy" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, checker := range h.checkers {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := c.Check(ctx)
			cc := ComponentCheck{Status: "healthy", Latency: time.Since(start).Truncate(time.Microsecond).String()}
			if err != nil {
				cc.Status = "unhealthy"
				cc.Error = err.Error()
			}
			mu.Lock()
			results[c.Name()] = cc
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return results
}
