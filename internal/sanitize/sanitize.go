// Package sanitize redacts secrets from strings before they reach logs or
// audit records. Every component that persists user-supplied or third-party
// diagnostics must pass them through this package first.
package sanitize

import (
	"regexp"
	"strings"
)

// Marker replaces redacted values.
const Marker = "[REDACTED]"

var (
	// Query parameters whose values are always secrets.
	queryParamRe = regexp.MustCompile(`(?i)\b(token|key|auth|password|idToken)=([^&\s"']*)`)

	// Bearer credentials embedded in headers or error text.
	bearerRe = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._~+/=]+`)

	// Three dot-separated base64url segments, the shape of a serialized JWT.
	jwtRe = regexp.MustCompile(`\b[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)

	// "password: hunter2", "token=abc", "authorization: xyz" style labels.
	labeledRe = regexp.MustCompile(`(?i)\b(password|token|authorization)\s*[:=]\s*[^\s,;"']+`)

	sensitiveKeyParts = []string{
		"password", "token", "idtoken", "accesstoken", "refreshtoken",
		"credentials", "auth", "secret",
	}
)

// Endpoint redacts sensitive query parameter values and Bearer credentials
// from a URL. Idempotent: re-applying to already-sanitized input is a no-op.
// Empty input yields empty output.
func Endpoint(url string) string {
	if url == "" {
		return ""
	}
	out := queryParamRe.ReplaceAllString(url, "$1="+Marker)
	out = bearerRe.ReplaceAllString(out, "Bearer "+Marker)
	return out
}

// Error extracts the error message and redacts JWT-shaped substrings, Bearer
// credentials and labeled password/token/authorization values. A nil error
// yields the empty string.
func Error(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if msg == "" {
		return ""
	}
	return Message(msg)
}

// Message applies the same redactions as Error to a raw string.
func Message(msg string) string {
	if msg == "" {
		return ""
	}
	out := bearerRe.ReplaceAllString(msg, "Bearer "+Marker)
	out = jwtRe.ReplaceAllString(out, Marker)
	out = labeledRe.ReplaceAllString(out, "$1="+Marker)
	return out
}

// Params shallow-copies the map and replaces the value of every key whose
// name contains a sensitive substring, case-insensitively. A nil map yields
// nil.
func Params(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if sensitiveKey(k) {
			out[k] = Marker
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
