package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sideline.org/internal/auth"
	"sideline.org/internal/integration"
	"sideline.org/internal/syncjournal"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "sideline-api" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLoginSetsCookieAndReturnsToken(t *testing.T) {
	env := newTestEnv(t)
	body := `{"email":"coach@sideline.test","password":"coach-pass"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/login", "", &body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected token in response")
	}

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == tokenCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != resp.Token || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("cookie misconfigured: %+v", cookie)
	}

	// The fresh token authenticates a guarded endpoint.
	rr = env.do(t, http.MethodGet, "/v1/integrations", resp.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("fresh token rejected: %d", rr.Code)
	}
}

func TestLoginFailuresShareOneBody(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		body string
	}{
		{"unknown email", `{"email":"nobody@sideline.test","password":"x"}`},
		{"wrong password", `{"email":"coach@sideline.test","password":"wrong"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/v1/auth/login", "", &tc.body)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != "invalid credentials" {
				t.Fatalf("unexpected error: %v", body["error"])
			}
		})
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	rr := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.Name == tokenCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected cookie to be cleared")
	}
	if len(env.ledger.revoked) != 1 {
		t.Fatalf("expected one revocation, got %d", len(env.ledger.revoked))
	}
}

func TestPasswordChangeInvalidatesOldTokens(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	body := `{"current_password":"coach-pass","new_password":"new-pass-1"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/password", token, &body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := env.ledger.cutoffs["coach-1"]; !ok {
		t.Fatal("expected revocation cutoff for principal")
	}

	// The pre-change token no longer authenticates.
	rr = env.do(t, http.MethodGet, "/v1/integrations", token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("old token still accepted: %d", rr.Code)
	}
}

func TestPasswordChangeRejectsWrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	body := `{"current_password":"wrong","new_password":"new-pass-1"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/password", token, &body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if _, ok := env.ledger.cutoffs["coach-1"]; ok {
		t.Fatal("cutoff must not move on a failed change")
	}
}

func TestRevokeEndpointValidatesReason(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "admin-1")

	body := `{"principal_id":"coach-1","reason":"logout"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/revoke", token, &body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for reserved reason, got %d", rr.Code)
	}

	body = `{"principal_id":"coach-1","reason":"security_revoke"}`
	rr = env.do(t, http.MethodPost, "/v1/auth/revoke", token, &body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := env.ledger.cutoffs["coach-1"]; !ok {
		t.Fatal("expected cutoff for revoked principal")
	}
}

func TestRevokeEndpointScopesTenant(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.accounts["rival-1"] = &auth.Account{
		ID: "rival-1", TenantID: "team-2", Email: "rival@sideline.test",
		PasswordHash: mustHash(t, "rival-pass"),
		Role:         auth.RoleAssistantCoach, Status: auth.AccountStatusActive,
	}

	coach := env.tokenFor(t, "coach-1")
	body := `{"principal_id":"rival-1","reason":"admin_revoke"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/revoke", coach, &body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("cross-tenant revoke must be 403, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := env.ledger.cutoffs["rival-1"]; ok {
		t.Fatal("cross-tenant revoke must not set a cutoff")
	}

	admin := env.tokenFor(t, "admin-1")
	body = `{"principal_id":"rival-1","reason":"admin_revoke"}`
	rr = env.do(t, http.MethodPost, "/v1/auth/revoke", admin, &body)
	if rr.Code != http.StatusOK {
		t.Fatalf("super admin revoke failed: %d %s", rr.Code, rr.Body.String())
	}
	if _, ok := env.ledger.cutoffs["rival-1"]; !ok {
		t.Fatal("expected cutoff after super admin revoke")
	}

	body = `{"principal_id":"nobody","reason":"admin_revoke"}`
	rr = env.do(t, http.MethodPost, "/v1/auth/revoke", admin, &body)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown principal must be 404, got %d", rr.Code)
	}
}

func TestRevokeEndpointHidesStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.revokeAllErr = errors.New("pg: connection refused")

	token := env.tokenFor(t, "admin-1")
	body := `{"principal_id":"coach-1","reason":"security_revoke"}`
	rr := env.do(t, http.MethodPost, "/v1/auth/revoke", token, &body)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("store failure must be 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "connection refused") {
		t.Fatalf("internal error text leaked: %s", rr.Body.String())
	}
}

func TestGrantUpsertAndList(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	expires := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	body := `{"principal_id":"asst-1","capability":"depth_chart_edit","is_granted":true,"expires_at":"` + expires + `"}`
	rr := env.do(t, http.MethodPut, "/v1/grants", token, &body)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/v1/grants?principal_id=asst-1", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items []grantView `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one grant, got %d", len(resp.Items))
	}
	g := resp.Items[0]
	if g.Capability != "depth_chart_edit" || !g.IsGranted || g.GrantedBy != "coach-1" || g.Expired {
		t.Fatalf("unexpected grant: %+v", g)
	}
}

func TestGrantUpsertRejectsUnknownCapability(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	body := `{"principal_id":"asst-1","capability":"launch_rockets","is_granted":true}`
	rr := env.do(t, http.MethodPut, "/v1/grants", token, &body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGrantUpsertRejectsCrossTenant(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	body := `{"principal_id":"asst-1","tenant_id":"team-2","capability":"depth_chart_edit","is_granted":true}`
	rr := env.do(t, http.MethodPut, "/v1/grants", token, &body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestIntegrationsListHidesTokenMaterial(t *testing.T) {
	env := newTestEnv(t)
	exp := testNow.Add(time.Hour)
	env.creds.creds = append(env.creds.creds, integration.Credential{
		ID: "c1", TenantID: "team-1", Provider: "hudl",
		Type:                 integration.TypeOAuth2,
		EncryptedAccessToken: []byte("sealed-bytes"),
		TokenExpiresAt:       &exp,
		IsActive:             true,
	})
	token := env.tokenFor(t, "coach-1")

	rr := env.do(t, http.MethodGet, "/v1/integrations", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "sealed-bytes") {
		t.Fatal("response leaks credential blob")
	}
	var resp struct {
		Items []credentialView `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Provider != "hudl" || !resp.Items[0].IsActive {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestReactivateIntegration(t *testing.T) {
	env := newTestEnv(t)
	env.creds.creds = append(env.creds.creds, integration.Credential{
		ID: "c1", TenantID: "team-1", Provider: "hudl",
		Type: integration.TypeOAuth2, IsActive: false, RefreshErrorCount: 3,
	})
	token := env.tokenFor(t, "coach-1")

	rr := env.do(t, http.MethodPost, "/v1/integrations/hudl/reactivate", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !env.creds.creds[0].IsActive || env.creds.creds[0].RefreshErrorCount != 0 {
		t.Fatalf("credential not reactivated: %+v", env.creds.creds[0])
	}

	rr = env.do(t, http.MethodPost, "/v1/integrations/missing/reactivate", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSyncOperationsTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	env.journal.recs = append(env.journal.recs,
		syncjournal.Record{ID: "rec-1", TenantID: "team-1", Provider: "hudl",
			Type: syncjournal.OpRosterImport, Status: syncjournal.StatusCompleted, StartedAt: testNow},
		syncjournal.Record{ID: "rec-2", TenantID: "team-2", Provider: "hudl",
			Type: syncjournal.OpRosterImport, Status: syncjournal.StatusFailed, StartedAt: testNow},
	)
	token := env.tokenFor(t, "coach-1")

	rr := env.do(t, http.MethodGet, "/v1/sync-operations", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Items []syncView `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "rec-1" {
		t.Fatalf("tenant scoping broken: %+v", resp.Items)
	}

	// Reading another tenant's record by id yields 404, not 403.
	rr = env.do(t, http.MethodGet, "/v1/sync-operations/rec-2", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	env := newTestEnv(t)
	token := env.tokenFor(t, "coach-1")

	rr := env.do(t, http.MethodDelete, "/v1/grants", token, nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") == "" {
		t.Fatal("expected Allow header")
	}
}

func TestRequestIDEchoedInErrors(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/integrations", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["request_id"] != "req-abc" {
		t.Fatalf("expected request_id echoed, got %v", body["request_id"])
	}
	if rr.Header().Get("X-Request-Id") != "req-abc" {
		t.Fatal("expected X-Request-Id response header")
	}
}
