package auth

import "errors"

// Authentication failures. All three surface to the caller as the same
// generic "not authorized" response; the distinction exists for logs.
var (
	ErrNoToken           = errors.New("auth: no bearer token")
	ErrInvalidToken      = errors.New("auth: invalid token")
	ErrPrincipalNotFound = errors.New("auth: principal not found")
)

// Authorization failures. Both map to "forbidden"; expired grants are
// distinguishable from never-granted capabilities in logs only.
var (
	ErrPermissionDenied  = errors.New("auth: permission denied")
	ErrPermissionExpired = errors.New("auth: permission expired")
)

// ErrEvaluation indicates the grant lookup itself failed. Callers must fail
// closed and alert rather than present it as an ordinary denial.
var ErrEvaluation = errors.New("auth: permission evaluation failed")

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("auth: not found")

// ErrInvalidRevocationReason rejects administrative revocations carrying a
// reason reserved for another flow (logout, password_change).
var ErrInvalidRevocationReason = errors.New("auth: unsupported revocation reason")
