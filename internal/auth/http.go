// ABOUTME: HTTP middleware for JWT authentication on widget endpoints
// ABOUTME: Extracts the token from the Authorization header or the token query param

package auth

import (
	"net/http"
	"strings"
)

// extractToken pulls a session token from the request: the Authorization
// bearer header wins, falling back to the "token" query parameter because
// embedded pages cannot always set headers on the bridge upgrade.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token := strings.TrimPrefix(header, "Bearer "); token != header {
			return token
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware verifies the session token and attaches its claims to the
// request context. Requests without a token are rejected.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				http.Error(w, `{"error":"missing token"}`, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalMiddleware attempts token verification but lets anonymous
// requests through. Deployments without a configured secret serve every
// visitor; deployments with one still accept anonymous sessions and scope
// them at the access check instead.
func OptionalMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
