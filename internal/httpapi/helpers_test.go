package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sideline.org/internal/auth"
	"sideline.org/internal/integration"
	"sideline.org/internal/syncjournal"
)

const testSecret = "httpapi-test-secret"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

// --- auth fakes ---

type fakeAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*auth.Account
}

func (s *fakeAccountStore) Find(_ context.Context, id string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	copied := *acc
	return &copied, nil
}

func (s *fakeAccountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.Email == email {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *fakeAccountStore) UpdatePassword(_ context.Context, accountID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return auth.ErrNotFound
	}
	acc.PasswordHash = passwordHash
	return nil
}

type revocation struct {
	principalID   string
	naturalExpiry time.Time
	reason        auth.RevokeReason
}

type fakeLedger struct {
	mu           sync.Mutex
	revoked      map[string]revocation
	cutoffs      map[string]time.Time
	revokeAllErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		revoked: make(map[string]revocation),
		cutoffs: make(map[string]time.Time),
	}
}

func (l *fakeLedger) Revoke(_ context.Context, tokenID, principalID string, naturalExpiry time.Time, reason auth.RevokeReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.revoked[tokenID]; !ok {
		l.revoked[tokenID] = revocation{principalID: principalID, naturalExpiry: naturalExpiry, reason: reason}
	}
	return nil
}

func (l *fakeLedger) RevokeAllForPrincipal(_ context.Context, principalID string, cutoff time.Time, _ auth.RevokeReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.revokeAllErr != nil {
		return l.revokeAllErr
	}
	if existing, ok := l.cutoffs[principalID]; !ok || cutoff.After(existing) {
		l.cutoffs[principalID] = cutoff
	}
	return nil
}

func (l *fakeLedger) IsRevoked(_ context.Context, tokenID, principalID string, issuedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev, ok := l.revoked[tokenID]; ok && rev.principalID == principalID && rev.naturalExpiry.After(testNow) {
		return true, nil
	}
	if cutoff, ok := l.cutoffs[principalID]; ok && !issuedAt.After(cutoff) {
		return true, nil
	}
	return false, nil
}

func (l *fakeLedger) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, rev := range l.revoked {
		if !rev.naturalExpiry.After(now) {
			delete(l.revoked, id)
			n++
		}
	}
	return n, nil
}

type fakeGrantStore struct {
	mu     sync.Mutex
	grants []auth.PermissionGrant
	err    error
}

func (s *fakeGrantStore) Granted(_ context.Context, principalID, tenantID string, caps []auth.Capability) (map[auth.Capability]auth.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[auth.Capability]auth.PermissionGrant)
	for _, g := range s.grants {
		if g.PrincipalID != principalID || g.TenantID != tenantID || !g.IsGranted {
			continue
		}
		for _, c := range caps {
			if g.Capability == c {
				out[c] = g
			}
		}
	}
	return out, nil
}

func (s *fakeGrantStore) Upsert(_ context.Context, grant auth.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.grants {
		if g.PrincipalID == grant.PrincipalID && g.TenantID == grant.TenantID && g.Capability == grant.Capability {
			s.grants[i] = grant
			return nil
		}
	}
	s.grants = append(s.grants, grant)
	return nil
}

func (s *fakeGrantStore) List(_ context.Context, principalID, tenantID string) ([]auth.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []auth.PermissionGrant
	for _, g := range s.grants {
		if g.PrincipalID == principalID && g.TenantID == tenantID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeGrantStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// --- integration / journal fakes ---

type fakeCredStore struct {
	mu    sync.Mutex
	creds []integration.Credential
}

func (s *fakeCredStore) Get(_ context.Context, tenantID, provider string) (*integration.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.TenantID == tenantID && c.Provider == provider {
			copied := c
			return &copied, nil
		}
	}
	return nil, integration.ErrNotFound
}

func (s *fakeCredStore) Create(_ context.Context, cred *integration.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = append(s.creds, *cred)
	return nil
}

func (s *fakeCredStore) ListByTenant(_ context.Context, tenantID string) ([]integration.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []integration.Credential
	for _, c := range s.creds {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCredStore) ListRefreshDue(context.Context, time.Time, time.Duration) ([]integration.Credential, error) {
	return nil, nil
}

func (s *fakeCredStore) RecordRefreshSuccess(context.Context, string, integration.RefreshUpdate, time.Time) error {
	return nil
}

func (s *fakeCredStore) RecordRefreshFailure(context.Context, string, string, int, time.Time) (int, bool, error) {
	return 0, false, nil
}

func (s *fakeCredStore) Reactivate(_ context.Context, tenantID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.creds {
		if c.TenantID == tenantID && c.Provider == provider {
			s.creds[i].IsActive = true
			s.creds[i].RefreshErrorCount = 0
			s.creds[i].LastError = ""
			return nil
		}
	}
	return integration.ErrNotFound
}

type fakeJournalStore struct {
	mu   sync.Mutex
	recs []syncjournal.Record
}

func (s *fakeJournalStore) Insert(_ context.Context, rec *syncjournal.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *fakeJournalStore) Finish(context.Context, string, syncjournal.Status, syncjournal.Results, string, time.Time) error {
	return nil
}

func (s *fakeJournalStore) Find(_ context.Context, id string) (*syncjournal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.ID == id {
			copied := rec
			return &copied, nil
		}
	}
	return nil, syncjournal.ErrNotFound
}

func (s *fakeJournalStore) ListByTenant(_ context.Context, tenantID string, limit int) ([]syncjournal.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []syncjournal.Record
	for _, rec := range s.recs {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- environment ---

type testEnv struct {
	api      *API
	tokens   *auth.TokenService
	accounts *fakeAccountStore
	ledger   *fakeLedger
	grants   *fakeGrantStore
	creds    *fakeCredStore
	journal  *fakeJournalStore
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService(testSecret, auth.WithTokenClock(testClock))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	accounts := &fakeAccountStore{accounts: map[string]*auth.Account{
		"admin-1": {
			ID: "admin-1", TenantID: "team-1", Email: "admin@sideline.test",
			PasswordHash: mustHash(t, "admin-pass"),
			Role:         auth.RoleSuperAdmin, Status: auth.AccountStatusActive,
		},
		"coach-1": {
			ID: "coach-1", TenantID: "team-1", Email: "coach@sideline.test",
			PasswordHash: mustHash(t, "coach-pass"),
			Role:         auth.RoleHeadCoach, Status: auth.AccountStatusActive,
		},
		"asst-1": {
			ID: "asst-1", TenantID: "team-1", Email: "asst@sideline.test",
			PasswordHash: mustHash(t, "asst-pass"),
			Role:         auth.RoleAssistantCoach, Status: auth.AccountStatusActive,
		},
	}}
	ledger := newFakeLedger()
	grants := &fakeGrantStore{}
	creds := &fakeCredStore{}
	journal := &fakeJournalStore{}

	svc, err := auth.NewService(tokens, ledger, accounts, auth.WithServiceClock(testClock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	resolver, err := auth.NewResolver(tokens, ledger, accounts)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	evaluator, err := auth.NewEvaluator(grants, auth.WithEvaluatorClock(testClock))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	api := New(ReadyProbe{}, "test", Services{
		Auth:        svc,
		Resolver:    resolver,
		Evaluator:   evaluator,
		Grants:      grants,
		Credentials: creds,
		Journal:     journal,
	})
	return &testEnv{
		api:      api,
		tokens:   tokens,
		accounts: accounts,
		ledger:   ledger,
		grants:   grants,
		creds:    creds,
		journal:  journal,
	}
}

func (env *testEnv) tokenFor(t *testing.T, accountID string) string {
	t.Helper()
	acc, err := env.accounts.Find(context.Background(), accountID)
	if err != nil {
		t.Fatalf("find account %s: %v", accountID, err)
	}
	token, _, err := env.tokens.Issue(acc)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (env *testEnv) do(t *testing.T, method, path, token string, body *string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(*body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "127.0.0.1:1234"
	rr := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(rr, req)
	return rr
}
