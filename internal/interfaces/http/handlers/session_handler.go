package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/turtacn/discovery-engine/internal/application/session"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// SessionHandler exposes the saved-session store.
type SessionHandler struct {
	store *session.Store
}

func NewSessionHandler(store *session.Store) *SessionHandler {
	return &SessionHandler{store: store}
}

// List handles GET /sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sums, err := h.store.Summaries(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if sums == nil {
		sums = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sums, "total": len(sums)})
}

// Get handles GET /sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Delete handles DELETE /sessions/{id}.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name"`
}

// Rename handles POST /sessions/{id}/rename.
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeAppError(w, r, errors.InvalidParam("name is required"))
		return
	}
	s, err := h.store.Rename(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Summarize(s))
}
