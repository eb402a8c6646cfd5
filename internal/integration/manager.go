package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sideline.org/internal/obs"
	"sideline.org/internal/sanitize"
)

// ErrNotFound is returned by stores when a credential does not exist.
var ErrNotFound = errors.New("integration: credential not found")

// CredentialStore persists integration credentials. Counter updates are
// single-row, single-statement increment-and-compare operations so
// concurrent writers never lose an update.
type CredentialStore interface {
	Get(ctx context.Context, tenantID, provider string) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	ListByTenant(ctx context.Context, tenantID string) ([]Credential, error)
	// ListRefreshDue returns active credentials whose access token is within
	// the buffer window (or already expired) and whose refresh token has not
	// lapsed.
	ListRefreshDue(ctx context.Context, now time.Time, buffer time.Duration) ([]Credential, error)
	// RecordRefreshSuccess resets the error counter, clears the last error,
	// stamps last_refreshed_at and stores the new sealed tokens. It never
	// touches is_active.
	RecordRefreshSuccess(ctx context.Context, id string, upd RefreshUpdate, at time.Time) error
	// RecordRefreshFailure increments the error counter and flips is_active
	// to false in the same statement exactly when the new count reaches
	// maxErrors. It reports the new count and whether the credential is now
	// deactivated.
	RecordRefreshFailure(ctx context.Context, id, sanitizedMessage string, maxErrors int, at time.Time) (count int, deactivated bool, err error)
	// Reactivate clears the error counter and re-enables the credential.
	// Only an operator or a re-authentication flow calls this; nothing in
	// the refresh path does.
	Reactivate(ctx context.Context, tenantID, provider string) error
}

// RefreshUpdate carries the sealed outcome of a successful provider refresh.
type RefreshUpdate struct {
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenExpiresAt        time.Time
	RefreshTokenExpiresAt *time.Time
}

// RefreshResult is what a provider hands back on a successful refresh,
// still in plaintext; the manager seals it before it touches the store.
type RefreshResult struct {
	AccessToken           string
	RefreshToken          string
	TokenExpiresAt        time.Time
	RefreshTokenExpiresAt *time.Time
}

// Refresher performs the provider-side token refresh.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) (RefreshResult, error)
}

// Manager drives the credential refresh lifecycle.
type Manager struct {
	store     CredentialStore
	refresher Refresher
	cipher    *Cipher
	buffer    time.Duration
	maxErrors int
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithRefreshBuffer overrides the proactive refresh lead time.
func WithRefreshBuffer(buffer time.Duration) ManagerOption {
	return func(m *Manager) {
		if buffer > 0 {
			m.buffer = buffer
		}
	}
}

// WithMaxRefreshErrors overrides the deactivation ceiling.
func WithMaxRefreshErrors(max int) ManagerOption {
	return func(m *Manager) {
		if max > 0 {
			m.maxErrors = max
		}
	}
}

// WithManagerClock overrides the time source (useful for tests).
func WithManagerClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store CredentialStore, refresher Refresher, cipher *Cipher, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("integration: credential store is required")
	}
	if refresher == nil {
		return nil, errors.New("integration: refresher is required")
	}
	if cipher == nil {
		return nil, errors.New("integration: cipher is required")
	}
	m := &Manager{
		store:     store,
		refresher: refresher,
		cipher:    cipher,
		buffer:    DefaultRefreshBuffer,
		maxErrors: DefaultMaxRefreshErrors,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RefreshBuffer returns the configured proactive refresh lead time.
func (m *Manager) RefreshBuffer() time.Duration { return m.buffer }

// MaxRefreshErrors returns the configured deactivation ceiling.
func (m *Manager) MaxRefreshErrors() int { return m.maxErrors }

// SweepStats summarizes one refresh sweep.
type SweepStats struct {
	Attempted   int
	Refreshed   int
	Failed      int
	Deactivated int
}

// Sweep refreshes every credential whose access token is due. Refreshes for
// the same (tenant, provider) are serialized against each other; distinct
// credentials refresh in parallel. Returns once every attempt has recorded
// its outcome.
func (m *Manager) Sweep(ctx context.Context) (SweepStats, error) {
	due, err := m.store.ListRefreshDue(ctx, m.now().UTC(), m.buffer)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list refresh due: %w", err)
	}

	var (
		wg      sync.WaitGroup
		statsMu sync.Mutex
		stats   SweepStats
	)
	stats.Attempted = len(due)
	for _, cred := range due {
		wg.Add(1)
		go func(cred Credential) {
			defer wg.Done()
			refreshed, deactivated := m.refreshOne(ctx, cred)
			statsMu.Lock()
			if refreshed {
				stats.Refreshed++
			} else {
				stats.Failed++
			}
			if deactivated {
				stats.Deactivated++
			}
			statsMu.Unlock()
		}(cred)
	}
	wg.Wait()
	return stats, nil
}

// RefreshOne refreshes a single credential on demand, with the same
// per-(tenant, provider) serialization as the sweep.
func (m *Manager) RefreshOne(ctx context.Context, tenantID, provider string) error {
	cred, err := m.store.Get(ctx, tenantID, provider)
	if err != nil {
		return err
	}
	if !cred.IsActive {
		return fmt.Errorf("integration: credential %s/%s is deactivated", tenantID, provider)
	}
	if cred.RefreshTokenExpired(m.now().UTC()) {
		return fmt.Errorf("integration: refresh token for %s/%s has expired", tenantID, provider)
	}
	if ok, _ := m.refreshOne(ctx, *cred); !ok {
		return fmt.Errorf("integration: refresh failed for %s/%s", tenantID, provider)
	}
	return nil
}

func (m *Manager) refreshOne(ctx context.Context, cred Credential) (refreshed, deactivated bool) {
	lock := m.lockFor(cred.TenantID, cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	result, err := m.refresher.Refresh(ctx, cred)
	if err != nil {
		// Provider errors may embed live tokens; only sanitized text is
		// ever persisted.
		return false, m.recordFailure(ctx, cred, sanitize.Error(err))
	}

	upd, err := m.sealResult(result)
	if err != nil {
		return false, m.recordFailure(ctx, cred, sanitize.Error(err))
	}
	if err := m.store.RecordRefreshSuccess(ctx, cred.ID, upd, m.now().UTC()); err != nil {
		m.logStoreError(cred, "record refresh success", err)
		return false, false
	}
	return true, false
}

func (m *Manager) recordFailure(ctx context.Context, cred Credential, msg string) (deactivated bool) {
	_, deactivated, err := m.store.RecordRefreshFailure(ctx, cred.ID, msg, m.maxErrors, m.now().UTC())
	if err != nil {
		// The failure is now invisible to the deactivation counter; the log
		// line is the only trace.
		m.logStoreError(cred, "record refresh failure", err)
		return false
	}
	return deactivated
}

func (m *Manager) logStoreError(cred Credential, op string, err error) {
	obs.LogRequest(map[string]any{
		"level":    "error",
		"msg":      "credential store write failed",
		"op":       op,
		"tenant":   cred.TenantID,
		"provider": cred.Provider,
		"error":    sanitize.Error(err),
	})
}

func (m *Manager) sealResult(result RefreshResult) (RefreshUpdate, error) {
	access, err := m.cipher.Seal(result.AccessToken)
	if err != nil {
		return RefreshUpdate{}, err
	}
	refresh, err := m.cipher.Seal(result.RefreshToken)
	if err != nil {
		return RefreshUpdate{}, err
	}
	return RefreshUpdate{
		EncryptedAccessToken:  access,
		EncryptedRefreshToken: refresh,
		TokenExpiresAt:        result.TokenExpiresAt,
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt,
	}, nil
}

func (m *Manager) lockFor(tenantID, provider string) *sync.Mutex {
	key := tenantID + "|" + provider
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}
