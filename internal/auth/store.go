package auth

import (
	"context"
	"time"
)

// AccountStore looks up coach/admin accounts. Implementations must never
// return secret fields beyond PasswordHash, which only this package reads.
type AccountStore interface {
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string) error
}

// GrantStore persists permission grants, one row per
// (principal, tenant, capability).
type GrantStore interface {
	// Granted returns the grants with is_granted=true for the requested
	// capabilities, keyed by capability. Expired grants are returned as-is;
	// expiry is the evaluator's concern so the policy lives in one place.
	Granted(ctx context.Context, principalID, tenantID string, caps []Capability) (map[Capability]PermissionGrant, error)
	Upsert(ctx context.Context, grant PermissionGrant) error
	List(ctx context.Context, principalID, tenantID string) ([]PermissionGrant, error)
	// DeleteExpired removes grants whose expiry has passed. Optional cleanup;
	// correctness never depends on it because expiry is checked lazily.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RevocationLedger is the durable record of revoked tokens and per-principal
// revocation cutoffs.
type RevocationLedger interface {
	// Revoke inserts a revocation marker. Revoking an already-revoked token
	// is a no-op success.
	Revoke(ctx context.Context, tokenID, principalID string, naturalExpiry time.Time, reason RevokeReason) error
	// RevokeAllForPrincipal sets the principal's revocation cutoff. Tokens
	// issued at or before the cutoff are invalid even if never individually
	// revoked. An existing later cutoff is never moved backwards.
	RevokeAllForPrincipal(ctx context.Context, principalID string, cutoff time.Time, reason RevokeReason) error
	// IsRevoked implements the two-tier check: a live per-token marker for
	// this jti, then the principal's cutoff against the token's issued-at.
	IsRevoked(ctx context.Context, tokenID, principalID string, issuedAt time.Time) (bool, error)
	// PurgeExpired deletes markers whose natural expiry has passed and
	// returns the number removed. It must never delete a marker whose token
	// could still be replayed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
