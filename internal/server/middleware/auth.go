package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AdminOnly wraps a single handler behind the admin key, accepted either as a
// Bearer token in the Authorization header or in the X-API-Key header. It
// never fails open: an empty configured key rejects every request, so admin
// routes cannot be exposed by a missing config value.
func AdminOnly(adminKey string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" {
			writeUnauthorized(w, "admin access not configured")
			return
		}

		token := extractToken(r)
		if token == "" {
			writeUnauthorized(w, "missing authentication token")
			return
		}

		// Constant-time comparison to prevent timing attacks.
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminKey)) != 1 {
			writeUnauthorized(w, "invalid authentication token")
			return
		}

		next(w, r)
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	// Check Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Check X-API-Key header.
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
