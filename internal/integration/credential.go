// Package integration tracks per-tenant third-party provider credentials:
// token expiry, proactive refresh, failure counting and deactivation.
package integration

import "time"

// CredentialType describes how the provider is authenticated.
type CredentialType string

const (
	TypeOAuth2 CredentialType = "oauth2"
	TypeBasic  CredentialType = "basic"
	TypeAPIKey CredentialType = "api_key"
)

const (
	// DefaultRefreshBuffer is the lead time before actual token expiry
	// during which a proactive refresh is triggered, so downstream calls
	// never land on an already-expired token.
	DefaultRefreshBuffer = 5 * time.Minute

	// DefaultMaxRefreshErrors is the consecutive-failure ceiling after
	// which a credential is deactivated.
	DefaultMaxRefreshErrors = 3
)

// Credential is one tenant's connection to a provider, unique per
// (tenant, provider). Token material is stored only as sealed blobs;
// LastError only ever holds sanitized text.
type Credential struct {
	ID                    string
	TenantID              string
	Provider              string
	Type                  CredentialType
	EncryptedSecret       []byte
	EncryptedAccessToken  []byte
	EncryptedRefreshToken []byte
	TokenExpiresAt        *time.Time
	RefreshTokenExpiresAt *time.Time
	LastRefreshedAt       *time.Time
	RefreshErrorCount     int
	LastError             string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TokenExpired reports whether the access token needs a refresh: no expiry
// recorded, or now plus the buffer is at or past the recorded expiry.
func (c Credential) TokenExpired(now time.Time, buffer time.Duration) bool {
	if c.TokenExpiresAt == nil {
		return true
	}
	return !now.Add(buffer).Before(*c.TokenExpiresAt)
}

// RefreshTokenExpired reports whether the refresh token itself has lapsed.
// An absent recorded expiry is treated as "unknown, optimistically valid";
// callers must not read it as "permanently valid".
func (c Credential) RefreshTokenExpired(now time.Time) bool {
	if c.RefreshTokenExpiresAt == nil {
		return false
	}
	return !c.RefreshTokenExpiresAt.After(now)
}

// ShouldDeactivate is a pure pre-flight predicate over the error counter; it
// never mutates state.
func (c Credential) ShouldDeactivate(maxErrors int) bool {
	return c.RefreshErrorCount >= maxErrors
}
