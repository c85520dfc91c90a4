// ABOUTME: Authentication context for tracking session claims through handlers
// ABOUTME: Provides WithClaims/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// claimsContextKey is the key type for storing SessionClaims in context.Context.
type claimsContextKey struct{}

// WithClaims returns a new context with the session claims attached.
func WithClaims(ctx context.Context, claims *SessionClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// FromContext retrieves the session claims from the context, returning nil
// if the request was anonymous.
func FromContext(ctx context.Context) *SessionClaims {
	val := ctx.Value(claimsContextKey{})
	if val == nil {
		return nil
	}
	claims, ok := val.(*SessionClaims)
	if !ok {
		return nil
	}
	return claims
}
