package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Service bundles credential verification with the revocation ledger for the
// operations the HTTP layer exposes: login, logout, password change and
// administrative revocation.
type Service struct {
	tokens   *TokenService
	ledger   RevocationLedger
	accounts AccountStore
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(tokens *TokenService, ledger RevocationLedger, accounts AccountStore, opts ...ServiceOption) (*Service, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if ledger == nil {
		return nil, errors.New("auth: revocation ledger is required")
	}
	if accounts == nil {
		return nil, errors.New("auth: account store is required")
	}
	s := &Service{tokens: tokens, ledger: ledger, accounts: accounts, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login authenticates credentials and issues a bearer token. Every failure
// collapses into ErrInvalidToken so the response does not reveal whether the
// email or the password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Claims, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, ErrInvalidToken
	}
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidToken
		}
		return "", nil, fmt.Errorf("account lookup: %w", err)
	}
	if account.Status != AccountStatusActive {
		return "", nil, ErrInvalidToken
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidToken
	}
	token, claims, err := s.tokens.Issue(account)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// Logout revokes the exact token that authenticated the current request.
// Tokens without a jti cannot be individually revoked; they age out at
// natural expiry.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return ErrInvalidToken
	}
	if claims.ID == "" {
		return nil
	}
	return s.ledger.Revoke(ctx, claims.ID, claims.Subject, claims.ExpiresAt.Time, RevokeLogout)
}

// ChangePassword rotates the account password and invalidates every token
// issued before the change via the per-principal cutoff.
func (s *Service) ChangePassword(ctx context.Context, accountID, current, next string) error {
	account, err := s.accounts.Find(ctx, accountID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(account.PasswordHash, current); err != nil {
		return ErrInvalidToken
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return errors.New("auth: new password is required")
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}
	return s.ledger.RevokeAllForPrincipal(ctx, accountID, s.now().UTC(), RevokePasswordChange)
}

// RevokePrincipal invalidates every outstanding token for the principal by
// advancing its revocation cutoff. reason must be admin_revoke or
// security_revoke; logout and password_change arrive via their own paths.
// The target must belong to the caller's tenant unless the caller is a
// super admin.
func (s *Service) RevokePrincipal(ctx context.Context, caller Principal, principalID string, reason RevokeReason) error {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return errors.New("auth: principal id is required")
	}
	if reason != RevokeAdmin && reason != RevokeSecurity {
		return fmt.Errorf("%w %q", ErrInvalidRevocationReason, reason)
	}
	target, err := s.accounts.Find(ctx, principalID)
	if err != nil {
		return err
	}
	if caller.Role != RoleSuperAdmin && target.TenantID != caller.TenantID {
		return ErrPermissionDenied
	}
	return s.ledger.RevokeAllForPrincipal(ctx, principalID, s.now().UTC(), reason)
}

// PurgeExpired removes ledger entries whose tokens can no longer be
// replayed. Designed to run on a recurring schedule.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.ledger.PurgeExpired(ctx, s.now().UTC())
}
