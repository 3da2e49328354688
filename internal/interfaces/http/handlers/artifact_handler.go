package handlers

import (
	"context"
	"net/http"

	"github.com/turtacn/discovery-engine/pkg/errors"
)

// ArtifactPresigner resolves archived artifact URIs to download URLs.
type ArtifactPresigner interface {
	KeyFromURI(uri string) (string, error)
	Presign(ctx context.Context, key string) (string, error)
}

// ArtifactHandler redirects to docking artifacts in object storage.
type ArtifactHandler struct {
	store ArtifactPresigner
}

func NewArtifactHandler(store ArtifactPresigner) *ArtifactHandler {
	return &ArtifactHandler{store: store}
}

// Download handles GET /artifacts?uri=s3://bucket/key with a temporary
// redirect to a presigned URL.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeAppError(w, r, errors.InvalidParam("uri is required"))
		return
	}
	key, err := h.store.KeyFromURI(uri)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	u, err := h.store.Presign(r.Context(), key)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusTemporaryRedirect)
}
