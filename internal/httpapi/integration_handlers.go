package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"sideline.org/internal/audit"
	"sideline.org/internal/auth"
	"sideline.org/internal/integration"
)

// credentialView exposes credential status without any token material.
type credentialView struct {
	Provider          string     `json:"provider"`
	Type              string     `json:"type"`
	IsActive          bool       `json:"is_active"`
	TokenExpiresAt    *time.Time `json:"token_expires_at,omitempty"`
	LastRefreshedAt   *time.Time `json:"last_refreshed_at,omitempty"`
	RefreshErrorCount int        `json:"refresh_error_count"`
	LastError         string     `json:"last_error,omitempty"`
}

func (a *API) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	creds, err := a.svc.Credentials.ListByTenant(r.Context(), caller.TenantID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "integration lookup failed")
		return
	}
	views := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		views = append(views, credentialView{
			Provider:          c.Provider,
			Type:              string(c.Type),
			IsActive:          c.IsActive,
			TokenExpiresAt:    c.TokenExpiresAt,
			LastRefreshedAt:   c.LastRefreshedAt,
			RefreshErrorCount: c.RefreshErrorCount,
			LastError:         c.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) handleIntegrationScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/integrations/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	provider := parts[0]
	switch parts[1] {
	case "reactivate":
		a.reactivateIntegration(w, r, provider)
	case "refresh":
		a.refreshIntegration(w, r, provider)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// reactivateIntegration is the only path back for a deactivated credential;
// nothing in the refresh lifecycle flips is_active on again.
func (a *API) reactivateIntegration(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	err := a.svc.Credentials.Reactivate(r.Context(), caller.TenantID, provider)
	if err != nil {
		if errors.Is(err, integration.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "reactivation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "integration.reactivated", map[string]any{
		"tenant_id": caller.TenantID,
		"provider":  provider,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "reactivated"})
}

func (a *API) refreshIntegration(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.svc.Manager == nil {
		writeError(w, r, http.StatusServiceUnavailable, "refresh unavailable")
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	if err := a.svc.Manager.RefreshOne(r.Context(), caller.TenantID, provider); err != nil {
		if errors.Is(err, integration.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, r, http.StatusBadGateway, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}
