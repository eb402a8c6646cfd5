package httpapi

import (
	"net/http"
	"strings"
	"time"

	"sideline.org/internal/audit"
	"sideline.org/internal/auth"
)

type upsertGrantRequest struct {
	PrincipalID string     `json:"principal_id"`
	TenantID    string     `json:"tenant_id"`
	Capability  string     `json:"capability"`
	IsGranted   bool       `json:"is_granted"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type grantView struct {
	PrincipalID string     `json:"principal_id"`
	TenantID    string     `json:"tenant_id"`
	Capability  string     `json:"capability"`
	IsGranted   bool       `json:"is_granted"`
	GrantedBy   string     `json:"granted_by"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Expired     bool       `json:"expired"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listGrants(w, r)
	case http.MethodPut:
		a.upsertGrant(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	principalID := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if principalID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		tenantID = caller.TenantID
	}
	// Non-admins can only look inside their own tenant.
	if caller.Role != auth.RoleSuperAdmin && tenantID != caller.TenantID {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	grants, err := a.svc.Grants.List(r.Context(), principalID, tenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "grant lookup failed")
		return
	}
	now := time.Now().UTC()
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, grantView{
			PrincipalID: g.PrincipalID,
			TenantID:    g.TenantID,
			Capability:  string(g.Capability),
			IsGranted:   g.IsGranted,
			GrantedBy:   g.GrantedBy,
			GrantedAt:   g.GrantedAt,
			ExpiresAt:   g.ExpiresAt,
			Expired:     g.Expired(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) upsertGrant(w http.ResponseWriter, r *http.Request) {
	var req upsertGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	capability := auth.Capability(strings.TrimSpace(req.Capability))
	if !auth.KnownCapability(capability) {
		writeError(w, r, http.StatusBadRequest, "unknown capability")
		return
	}
	if strings.TrimSpace(req.PrincipalID) == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}

	caller, _ := auth.PrincipalFromContext(r.Context())
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = caller.TenantID
	}
	if caller.Role != auth.RoleSuperAdmin && tenantID != caller.TenantID {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	grant := auth.PermissionGrant{
		PrincipalID: req.PrincipalID,
		TenantID:    tenantID,
		Capability:  capability,
		IsGranted:   req.IsGranted,
		GrantedBy:   caller.ID,
		GrantedAt:   time.Now().UTC(),
		ExpiresAt:   req.ExpiresAt,
	}
	if err := a.svc.Grants.Upsert(r.Context(), grant); err != nil {
		writeError(w, r, http.StatusInternalServerError, "grant update failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.grant_upserted", map[string]any{
		"principal_id": grant.PrincipalID,
		"tenant_id":    grant.TenantID,
		"capability":   string(grant.Capability),
		"is_granted":   grant.IsGranted,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated"})
}
