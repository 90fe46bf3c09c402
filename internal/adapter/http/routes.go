package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/middleware"
)

// WSHandler serves the websocket live feed for one run.
type WSHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
}

// MountRoutes registers all API routes on the given chi router. The router
// is expected to already carry the auth middleware; role gates are applied
// per group here.
func MountRoutes(r chi.Router, h *Handlers, ws WSHandler) {
	r.Get("/healthz", h.HandleHealth)
	r.Get("/healthz/ready", h.HandleReady)

	// Engine surface: API-key authenticated ingestion.
	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", h.HandleCreateRun)
		r.Post("/runs:upload", h.HandleUpload)
		r.Post("/runs/{id}/events", h.HandleApplyEvents)
		r.Delete("/runs/{id}", h.HandleDeleteRun)

		// Workflow
		r.Post("/runs/{id}/submit", h.HandleSubmitRun)
		r.Post("/runs/{id}/approve", h.HandleApproveRun)
		r.Post("/runs/{id}/reject", h.HandleRejectRun)
		r.Get("/runs/{id}/approvals", h.HandleListApprovals)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(user.RoleAdmin))

			r.Post("/users", h.HandleCreateUser)
			r.Get("/users", h.HandleListUsers)
			r.Put("/users/{email}", h.HandleUpdateUser)

			r.Post("/org-units", h.HandleCreateOrgUnit)
			r.Get("/org-units", h.HandleListOrgUnits)
			r.Put("/org-units/{id}", h.HandleUpdateOrgUnit)
			r.Delete("/org-units/{id}", h.HandleDeleteOrgUnit)

			r.Get("/settings", h.HandleListSettings)
			r.Put("/settings", h.HandleUpdateSettings)

			r.Post("/api-keys", h.HandleCreateAPIKey)
			r.Get("/api-keys", h.HandleListAPIKeys)
			r.Delete("/api-keys/{id}", h.HandleRevokeAPIKey)
		})
	})

	// Dashboard surface: proxy-header authenticated reads.
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.HandleMe)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}", h.HandleGetRunDetail)
	})

	// Live feed
	r.Get("/ws/runs/{id}", ws.HandleWS)
}
