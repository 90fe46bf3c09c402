package http

import (
	"net/http"

	"github.com/Strob0t/EvalForge/internal/domain/org"
	"github.com/Strob0t/EvalForge/internal/domain/settings"
	"github.com/Strob0t/EvalForge/internal/domain/user"
	"github.com/Strob0t/EvalForge/internal/middleware"
)

// Admin surface. Every handler here sits behind RequireRole(ADMIN).

// HandleCreateUser registers a user.
// POST /v1/admin/users
func (h *Handlers) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Admin.CreateUser(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "org unit not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleListUsers returns all users.
// GET /v1/admin/users
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Admin.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err, "users not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// HandleUpdateUser updates a user's name, role, team, or active flag.
// PUT /v1/admin/users/{email}
func (h *Handlers) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.UpdateRequest](w, r)
	if !ok {
		return
	}
	u, err := h.Admin.UpdateUser(r.Context(), urlParam(r, "email"), &req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleCreateOrgUnit inserts an org unit.
// POST /v1/admin/org-units
func (h *Handlers) HandleCreateOrgUnit(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[org.Unit](w, r)
	if !ok {
		return
	}
	u, err := h.Admin.CreateOrgUnit(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "parent unit not found")
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// HandleListOrgUnits returns the whole hierarchy.
// GET /v1/admin/org-units
func (h *Handlers) HandleListOrgUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Admin.ListOrgUnits(r.Context())
	if err != nil {
		writeDomainError(w, err, "org units not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"org_units": units})
}

// HandleUpdateOrgUnit renames, reparents, or reassigns the manager of a unit.
// PUT /v1/admin/org-units/{id}
func (h *Handlers) HandleUpdateOrgUnit(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[org.Unit](w, r)
	if !ok {
		return
	}
	req.ID = urlParam(r, "id")
	u, err := h.Admin.UpdateOrgUnit(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err, "org unit not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleDeleteOrgUnit removes an empty unit.
// DELETE /v1/admin/org-units/{id}
func (h *Handlers) HandleDeleteOrgUnit(w http.ResponseWriter, r *http.Request) {
	if err := h.Admin.DeleteOrgUnit(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "org unit not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListSettings returns every recognized setting with its effective value.
// GET /v1/admin/settings
func (h *Handlers) HandleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Settings.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": list})
}

// HandleUpdateSettings writes one or more settings.
// PUT /v1/admin/settings
func (h *Handlers) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	principal := middleware.UserFromContext(r.Context())
	req, ok := readJSON[settings.UpdateRequest](w, r)
	if !ok {
		return
	}
	if err := h.Settings.Update(r.Context(), principal, req); err != nil {
		writeDomainError(w, err, "settings not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// HandleCreateAPIKey mints an API key for a user.
// POST /v1/admin/api-keys
func (h *Handlers) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateAPIKeyRequest](w, r)
	if !ok {
		return
	}
	resp, err := h.Auth.CreateAPIKey(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "user not found")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleListAPIKeys lists keys, optionally filtered by ?user_email=.
// GET /v1/admin/api-keys
func (h *Handlers) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Auth.ListAPIKeys(r.Context(), r.URL.Query().Get("user_email"))
	if err != nil {
		writeDomainError(w, err, "api keys not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

// HandleRevokeAPIKey revokes a key by id.
// DELETE /v1/admin/api-keys/{id}
func (h *Handlers) HandleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.RevokeAPIKey(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "api key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
