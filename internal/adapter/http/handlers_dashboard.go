package http

import (
	"net/http"

	"github.com/Strob0t/EvalForge/internal/middleware"
)

// HandleListRuns serves the dashboard listing: visible runs grouped by task
// then model, each with a computed summary.
// GET /api/runs
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	groups, err := h.Visibility.ListGrouped(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err, "runs not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// HandleGetRunDetail serves one run with its full item and score list.
// GET /api/runs/{id}
func (h *Handlers) HandleGetRunDetail(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	detail, err := h.Visibility.GetDetail(r.Context(), principal, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleMe returns the authenticated principal.
// GET /api/me
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
}
