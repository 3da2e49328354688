package handlers

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/discovery-engine/internal/application/aggregation"
	"github.com/turtacn/discovery-engine/internal/application/discovery"
	"github.com/turtacn/discovery-engine/internal/domain/candidate"
	"github.com/turtacn/discovery-engine/internal/domain/target"
	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ActiveRunsGauge is told the number of open runs after each change.
type ActiveRunsGauge interface {
	SetActiveRuns(n int)
}

// RunHandler drives workflow runs over REST.
type RunHandler struct {
	engine *discovery.Engine
	gauge  ActiveRunsGauge
}

// NewRunHandler creates a RunHandler. gauge may be nil.
func NewRunHandler(engine *discovery.Engine, gauge ActiveRunsGauge) *RunHandler {
	return &RunHandler{engine: engine, gauge: gauge}
}

// RunView is the state of a run returned by every run endpoint.
type RunView struct {
	Session     *workflow.Session    `json:"session"`
	Stage       string               `json:"stage"`
	CanAdvance  bool                 `json:"can_advance"`
	Blocked     string               `json:"blocked_reason,omitempty"`
	Aggregation []aggregation.Result `json:"aggregation,omitempty"`
}

func viewOf(run *discovery.Run) RunView {
	snap := run.Snapshot()
	v := RunView{Session: snap, Stage: snap.Stage.String(), CanAdvance: true}
	if err := run.CanAdvance(); err != nil {
		v.CanAdvance = false
		v.Blocked = err.Error()
		var ae *errors.AppError
		if asAppError(err, &ae) {
			v.Blocked = ae.Message
		}
	}
	if snap.Stage >= workflow.StageMoleculeGeneration {
		v.Aggregation = run.AggregationResults()
	}
	return v
}

func (h *RunHandler) updateGauge() {
	if h.gauge != nil {
		h.gauge.SetActiveRuns(len(h.engine.Active()))
	}
}

// run resolves {id} to an active run, reopening it from storage if it was
// left open. Closed sessions answer 409 and must be resumed.
func (h *RunHandler) run(w http.ResponseWriter, r *http.Request) (*discovery.Run, bool) {
	run, err := h.engine.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return nil, false
	}
	h.updateGauge()
	return run, true
}

// SuggestDiseases handles GET /diseases/suggest?q=.
func (h *RunHandler) SuggestDiseases(w http.ResponseWriter, r *http.Request) {
	ds, err := h.engine.SuggestDiseases(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if ds == nil {
		ds = []target.Disease{}
	}
	writeJSON(w, http.StatusOK, ds)
}

// ProteinsForDisease handles GET /diseases/{name}/proteins.
func (h *RunHandler) ProteinsForDisease(w http.ResponseWriter, r *http.Request) {
	ps, err := h.engine.ProteinsForDisease(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// List handles GET /runs.
func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	ids := h.engine.Active()
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": ids})
}

// Start handles POST /runs.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Start(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.updateGauge()
	writeJSON(w, http.StatusCreated, viewOf(run))
}

// Get handles GET /runs/{id}.
func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Resume handles POST /runs/{id}/resume. The stored session is continued in
// a new run with its own id.
func (h *RunHandler) Resume(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.updateGauge()
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Close handles DELETE /runs/{id}. The stored session is kept.
func (h *RunHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.engine.Close(chi.URLParam(r, "id"))
	h.updateGauge()
	w.WriteHeader(http.StatusNoContent)
}

// SelectDisease handles POST /runs/{id}/disease.
func (h *RunHandler) SelectDisease(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var d target.Disease
	if err := decodeJSON(r, &d); err != nil {
		writeAppError(w, r, err)
		return
	}
	if err := run.SelectDisease(r.Context(), d); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

type proteinsRequest struct {
	// Load fetches the proteins of the selected disease from the backend.
	Load     bool             `json:"load"`
	Proteins []target.Protein `json:"proteins"`
	Selected []string         `json:"selected"`
}

// SetProteins handles PUT /runs/{id}/proteins.
func (h *RunHandler) SetProteins(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req proteinsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	ctx := r.Context()
	var err error
	switch {
	case req.Load:
		_, err = run.LoadProteins(ctx)
	case req.Proteins != nil:
		err = run.SetProteins(ctx, req.Proteins)
	}
	if err == nil && req.Selected != nil {
		err = run.SelectProteins(ctx, req.Selected)
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// ToggleProtein handles POST /runs/{id}/proteins/{proteinID}/toggle.
func (h *RunHandler) ToggleProtein(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if _, err := run.ToggleProtein(r.Context(), chi.URLParam(r, "proteinID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// SelectDockingProtein handles POST /runs/{id}/proteins/{proteinID}/dock.
func (h *RunHandler) SelectDockingProtein(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if err := run.SelectDockingProtein(r.Context(), chi.URLParam(r, "proteinID")); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Next handles POST /runs/{id}/next.
func (h *RunHandler) Next(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if _, err := run.Next(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Back handles POST /runs/{id}/back.
func (h *RunHandler) Back(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if _, err := run.Back(r.Context()); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

type resetRequest struct {
	Save bool `json:"save"`
}

// Reset handles POST /runs/{id}/reset. The run continues under a new id.
func (h *RunHandler) Reset(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if _, err := run.Reset(r.Context(), req.Save); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// Aggregation handles GET /runs/{id}/aggregation. With wait=true it blocks
// until every selected protein has resolved.
func (h *RunHandler) Aggregation(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	results := run.AggregationResults()
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		var err error
		if results, err = run.WaitForAggregation(r.Context()); err != nil {
			writeAppError(w, r, err)
			return
		}
	}
	if results == nil {
		results = []aggregation.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type generateRequest struct {
	Seeds  []string                   `json:"seeds"`
	Params candidate.GenerationParams `json:"params"`
}

// Generate handles POST /runs/{id}/generate. Partial failures are reported
// per seed with status 200; only a request where every seed failed is an
// error.
func (h *RunHandler) Generate(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	report, err := run.Generate(r.Context(), req.Seeds, req.Params)
	if err != nil && len(report.Seeds) == 0 {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = errors.HTTPStatusForCode(errors.GetCode(err))
	}
	writeJSON(w, status, map[string]interface{}{"report": report, "run": viewOf(run)})
}

type selectRequest struct {
	Selected *bool `json:"selected"`
}

// SelectCandidate handles POST /runs/{id}/candidates/{key}/select. The body
// is optional and defaults to selecting.
func (h *RunHandler) SelectCandidate(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	selected := req.Selected == nil || *req.Selected
	if err := run.SelectCandidate(r.Context(), chi.URLParam(r, "key"), selected); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(run))
}

// DockResponse reports a docking run. Error is set when a stage failed.
type DockResponse struct {
	Stage       string         `json:"stage"`
	StructureID string         `json:"structure_id,omitempty"`
	Error       *ErrorResponse `json:"error,omitempty"`
	Run         RunView        `json:"run"`
}

// Dock handles POST /runs/{id}/dock.
func (h *RunHandler) Dock(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	out := run.Dock(r.Context())
	resp := DockResponse{Stage: string(out.Stage), StructureID: out.StructureID}
	status := http.StatusOK
	if out.Err != nil {
		code := errors.GetCode(out.Err)
		status = errors.HTTPStatusForCode(code)
		resp.Error = &ErrorResponse{Code: string(code), Message: errors.DefaultMessageForCode(code)}
		var ae *errors.AppError
		if asAppError(out.Err, &ae) {
			resp.Error.Message = ae.Message
			resp.Error.Detail = ae.Detail
		}
	}
	resp.Run = viewOf(run)
	writeJSON(w, status, resp)
}

type saveRequest struct {
	Name string `json:"name"`
}

// SaveResponse carries the closed session and the run, which now has a new id.
type SaveResponse struct {
	Saved *workflow.Session `json:"saved"`
	Run   RunView           `json:"run"`
}

// Save handles POST /runs/{id}/save.
func (h *RunHandler) Save(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	saved, err := run.Save(r.Context(), req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	h.updateGauge()
	writeJSON(w, http.StatusOK, SaveResponse{Saved: saved, Run: viewOf(run)})
}
