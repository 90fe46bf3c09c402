package http

import (
	"net/http"

	"github.com/Strob0t/EvalForge/internal/domain/approval"
	"github.com/Strob0t/EvalForge/internal/middleware"
)

// HandleSubmitRun moves a run into SUBMITTED.
// POST /v1/runs/{id}/submit
func (h *Handlers) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	a, err := h.Workflow.Submit(r.Context(), principal, urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleApproveRun approves a SUBMITTED run.
// POST /v1/runs/{id}/approve
func (h *Handlers) HandleApproveRun(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.DecisionApproved)
}

// HandleRejectRun rejects a SUBMITTED run.
// POST /v1/runs/{id}/reject
func (h *Handlers) HandleRejectRun(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, approval.DecisionRejected)
}

func (h *Handlers) decide(w http.ResponseWriter, r *http.Request, decision approval.Decision) {
	principal := middleware.UserFromContext(r.Context())
	runID := urlParam(r, "id")

	var req approval.DecideRequest
	if r.ContentLength > 0 {
		var ok bool
		req, ok = readJSON[approval.DecideRequest](w, r)
		if !ok {
			return
		}
	}

	if err := h.Workflow.Decide(r.Context(), principal, runID, decision, req.Comment); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "decision": decision})
}

// HandleListApprovals returns a run's approval history.
// GET /v1/runs/{id}/approvals
func (h *Handlers) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.Workflow.ListApprovals(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}
