package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sideline.org/internal/auth"
	"sideline.org/internal/syncjournal"
)

func (a *API) handleSyncOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > 500 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = val
	}
	recs, err := a.svc.Journal.ListByTenant(r.Context(), caller.TenantID, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "journal lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": syncRecordViews(recs)})
}

func (a *API) handleSyncOperationResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sync-operations/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	rec, err := a.svc.Journal.Find(r.Context(), id)
	if err != nil {
		if errors.Is(err, syncjournal.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "sync operation not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "journal lookup failed")
		return
	}
	caller, _ := auth.PrincipalFromContext(r.Context())
	if caller.Role != auth.RoleSuperAdmin && rec.TenantID != caller.TenantID {
		writeError(w, r, http.StatusNotFound, "sync operation not found")
		return
	}
	writeJSON(w, http.StatusOK, syncRecordView(*rec))
}

type syncView struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Provider  string            `json:"provider"`
	Type      string            `json:"type"`
	Status    string            `json:"status"`
	Endpoint  string            `json:"endpoint,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Skipped   int               `json:"skipped"`
	Failed    int               `json:"failed"`
	Error     string            `json:"error,omitempty"`
	StartedAt string            `json:"started_at"`
	EndedAt   string            `json:"ended_at,omitempty"`
}

func syncRecordView(rec syncjournal.Record) syncView {
	v := syncView{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Provider:  rec.Provider,
		Type:      string(rec.Type),
		Status:    string(rec.Status),
		Endpoint:  rec.Endpoint,
		Params:    rec.Params,
		Created:   rec.Created,
		Updated:   rec.Updated,
		Skipped:   rec.Skipped,
		Failed:    rec.Failed,
		Error:     rec.Error,
		StartedAt: rec.StartedAt.UTC().Format(time.RFC3339),
	}
	if rec.EndedAt != nil {
		v.EndedAt = rec.EndedAt.UTC().Format(time.RFC3339)
	}
	return v
}

func syncRecordViews(recs []syncjournal.Record) []syncView {
	views := make([]syncView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, syncRecordView(rec))
	}
	return views
}
