// Package auth provides bearer-token authentication for the API.
package auth

import (
	"crypto/subtle"
	"strings"
)

// ValidateToken performs constant-time comparison of the provided token
// against the expected token to prevent timing attacks.
func ValidateToken(provided, expected string) bool {
	// Use constant-time comparison to prevent timing attacks
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}
