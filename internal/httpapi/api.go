// Package httpapi is the HTTP layer: routing, authentication middleware,
// capability guards, and the JSON handlers for the auth core.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"sideline.org/internal/auth"
	"sideline.org/internal/integration"
	"sideline.org/internal/obs"
	"sideline.org/internal/syncjournal"
)

// ReadyProbe checks service readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services bundles the domain collaborators the API dispatches to.
type Services struct {
	Auth        *auth.Service
	Resolver    *auth.Resolver
	Evaluator   *auth.Evaluator
	Grants      auth.GrantStore
	Credentials integration.CredentialStore
	Manager     *integration.Manager
	Journal     syncjournal.Store
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        Services
}

func New(rp ReadyProbe, version string, svc Services) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth lifecycle
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/password", a.handlePasswordChange)
	a.mux.HandleFunc("/v1/auth/revoke", a.requireCapability(a.handleRevoke, auth.ModeSingle, auth.CapTeamManagement))

	// grants
	a.mux.HandleFunc("/v1/grants", a.requireCapability(a.handleGrants, auth.ModeSingle, auth.CapTeamManagement))

	// integrations
	a.mux.HandleFunc("/v1/integrations", a.requireCapability(a.handleIntegrations, auth.ModeSingle, auth.CapTeamManagement))
	a.mux.HandleFunc("/v1/integrations/", a.requireCapability(a.handleIntegrationScoped, auth.ModeSingle, auth.CapTeamManagement))

	// sync journal
	a.mux.HandleFunc("/v1/sync-operations", a.requireCapability(a.handleSyncOperations, auth.ModeAny, auth.CapReportExport, auth.CapTeamManagement))
	a.mux.HandleFunc("/v1/sync-operations/", a.requireCapability(a.handleSyncOperationResource, auth.ModeAny, auth.CapReportExport, auth.CapTeamManagement))

	// root — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sideline-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sideline-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
