package auth

import "time"

// Role is the coarse role attached to an account. super_admin and head_coach
// carry role-level bypasses in the evaluator; assistant_coach relies entirely
// on stored grants.
type Role string

const (
	RoleSuperAdmin     Role = "super_admin"
	RoleHeadCoach      Role = "head_coach"
	RoleAssistantCoach Role = "assistant_coach"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleHeadCoach, RoleAssistantCoach:
		return true
	}
	return false
}

// Principal is the resolved identity for a single request. It is
// reconstructed from the bearer token on every request and never persisted.
type Principal struct {
	ID       string
	Role     Role
	TenantID string
}

// Account is a stored coach or admin account. PasswordHash never leaves this
// package; resolved principals carry no secret fields.
type Account struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Role         Role
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

// RevokeReason explains why a token or a whole principal was revoked.
type RevokeReason string

const (
	RevokeLogout         RevokeReason = "logout"
	RevokePasswordChange RevokeReason = "password_change"
	RevokeAdmin          RevokeReason = "admin_revoke"
	RevokeSecurity       RevokeReason = "security_revoke"
)

// RevokedToken is one explicitly revoked token, keyed by the token's jti
// claim. NaturalExpiry is copied from the token so the entry can be purged
// once the token can no longer be replayed.
type RevokedToken struct {
	TokenID       string
	PrincipalID   string
	RevokedAt     time.Time
	NaturalExpiry time.Time
	Reason        RevokeReason
}

// PermissionGrant asserts a principal holds a capability within a tenant. At
// most one grant exists per (principal, tenant, capability). A grant whose
// ExpiresAt is in the past is treated as absent without deletion.
type PermissionGrant struct {
	PrincipalID string
	TenantID    string
	Capability  Capability
	IsGranted   bool
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
}

// Expired reports whether the grant has lapsed at the given instant.
func (g PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}
