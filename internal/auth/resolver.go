package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Resolver authenticates raw bearer tokens into principals. It owns the
// two-tier revocation check so call sites never compare expiries themselves.
type Resolver struct {
	tokens   *TokenService
	ledger   RevocationLedger
	accounts AccountStore
}

// NewResolver constructs a Resolver. The ledger may be nil only in tests
// that exercise token parsing alone.
func NewResolver(tokens *TokenService, ledger RevocationLedger, accounts AccountStore) (*Resolver, error) {
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if accounts == nil {
		return nil, errors.New("auth: account store is required")
	}
	return &Resolver{tokens: tokens, ledger: ledger, accounts: accounts}, nil
}

// Resolve verifies the raw token, consults the revocation ledger, and loads
// the live account behind the subject claim.
//
// Error taxonomy: ErrNoToken (nothing presented), ErrInvalidToken
// (malformed, expired, bad signature, or revoked), ErrPrincipalNotFound
// (cryptographically valid token but the account is gone or disabled). Any
// other error is an infrastructure failure and callers must fail closed.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (Principal, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Principal{}, ErrNoToken
	}

	claims, err := r.tokens.Parse(rawToken)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	// Tokens without a jti predate the revocation ledger and skip the check.
	if r.ledger != nil && claims.ID != "" {
		revoked, err := r.ledger.IsRevoked(ctx, claims.ID, claims.Subject, claims.IssuedAt.Time)
		if err != nil {
			return Principal{}, fmt.Errorf("revocation check: %w", err)
		}
		if revoked {
			return Principal{}, ErrInvalidToken
		}
	}

	account, err := r.accounts.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("account lookup: %w", err)
	}
	if account.Status != AccountStatusActive {
		return Principal{}, ErrPrincipalNotFound
	}

	return Principal{ID: account.ID, Role: account.Role, TenantID: account.TenantID}, nil
}
