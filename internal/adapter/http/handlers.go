package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/EvalForge/internal/domain/event"
	"github.com/Strob0t/EvalForge/internal/domain/run"
	"github.com/Strob0t/EvalForge/internal/middleware"
	"github.com/Strob0t/EvalForge/internal/service"
)

// Pinger checks backend liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds the service dependencies for all HTTP handlers.
type Handlers struct {
	Ingest     *service.IngestService
	Visibility *service.VisibilityService
	Workflow   *service.WorkflowService
	Admin      *service.AdminService
	Auth       *service.AuthService
	Settings   *service.SettingsService
	DB         Pinger
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady is the readiness probe; it fails when the database pool is
// unreachable.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCreateRun registers a run for the authenticated engine.
// POST /v1/runs
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}

	resp, err := h.Ingest.CreateRun(r.Context(), principal, &req)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleApplyEvents ingests one NDJSON event batch.
// POST /v1/runs/{id}/events
func (h *Handlers) HandleApplyEvents(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	runID := urlParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	events, err := event.DecodeBatch(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "empty event batch")
		return
	}

	res, err := h.Ingest.ApplyEvents(r.Context(), principal, runID, events)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleUpload ingests an exported result set as a terminal run.
// POST /v1/runs:upload
//
// A JSON body is taken as-is; text/csv bodies are parsed with run attributes
// from query parameters.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())

	var req *service.UploadRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		task := r.URL.Query().Get("task")
		dataset := r.URL.Query().Get("dataset")
		if task == "" || dataset == "" {
			writeError(w, http.StatusBadRequest, "task and dataset query parameters are required for csv uploads")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		parsed, err := service.ParseCSVUpload(r.Body, task, dataset, r.URL.Query().Get("model"))
		if err != nil {
			writeDomainError(w, err, "upload failed")
			return
		}
		req = parsed
	} else {
		body, ok := readJSON[service.UploadRequest](w, r)
		if !ok {
			return
		}
		req = &body
	}

	resp, err := h.Ingest.Upload(r.Context(), principal, req)
	if err != nil {
		writeDomainError(w, err, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleDeleteRun removes a run and everything under it.
// DELETE /v1/runs/{id}
func (h *Handlers) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	if err := h.Ingest.DeleteRun(r.Context(), principal, urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
