package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sideline.org/internal/auth"
	"sideline.org/internal/obs"
)

const (
	authHeader  = "Authorization"
	bearer      = "Bearer "
	tokenCookie = "sideline_token"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.svc.Resolver == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerFromRequest(r)
		principal, err := a.svc.Resolver.Resolve(r.Context(), token)
		if err != nil {
			// The response body is identical for every authentication
			// failure; only logs and metrics tell them apart.
			switch {
			case errors.Is(err, auth.ErrNoToken):
				obs.RecordAuthFailure("missing_token")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			case errors.Is(err, auth.ErrInvalidToken):
				obs.RecordAuthFailure("invalid_token")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			case errors.Is(err, auth.ErrPrincipalNotFound):
				obs.RecordAuthFailure("unknown_principal")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			default:
				obs.RecordAuthFailure("resolver_error")
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCapability guards a handler behind a permission check. Evaluation
// failures fail closed with a 500 rather than an ordinary denial.
func (a *API) requireCapability(next http.HandlerFunc, mode auth.Mode, caps ...auth.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.svc.Evaluator == nil {
			writeError(w, r, http.StatusServiceUnavailable, "authorization unavailable")
			return
		}
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			obs.RecordAuthFailure("missing_principal")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		err := a.svc.Evaluator.Check(r.Context(), principal, mode, caps...)
		switch {
		case err == nil:
			obs.RecordPermissionCheck("allowed")
			next(w, r)
		case errors.Is(err, auth.ErrPermissionExpired):
			obs.RecordPermissionCheck("expired")
			writeError(w, r, http.StatusForbidden, "permission expired")
		case errors.Is(err, auth.ErrPermissionDenied):
			obs.RecordPermissionCheck("denied")
			writeError(w, r, http.StatusForbidden, "permission denied")
		default:
			obs.RecordPermissionCheck("error")
			obs.LogRequest(map[string]any{
				"level":      "error",
				"msg":        "permission evaluation failed",
				"path":       r.URL.Path,
				"principal":  principal.ID,
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			writeError(w, r, http.StatusInternalServerError, "authorization error")
		}
	}
}

// bearerFromRequest extracts the token, preferring the httpOnly cookie over
// the Authorization header.
func bearerFromRequest(r *http.Request) string {
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
