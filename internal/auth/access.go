// ABOUTME: Per-session access check backed by verified token claims
// ABOUTME: A failed check is the fatal class - the widget renders "unavailable"

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAccessDenied marks a session whose token does not cover the requested
// application or user.
var ErrAccessDenied = errors.New("access denied")

// Checker validates that a session's verified claims permit opening an
// application. It satisfies the orchestrator's AccessChecker.
type Checker struct {
	claims *SessionClaims
	logger *slog.Logger
}

// NewChecker creates a checker bound to one session's verified claims.
// A nil claims value means the deployment runs without tokens; every check
// passes.
func NewChecker(claims *SessionClaims, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		claims: claims,
		logger: logger.With("component", "auth"),
	}
}

// CheckAccess verifies the session may open the application as the given
// user. An app-scoped token only opens its own application; the user id must
// match the token subject when one is supplied.
func (c *Checker) CheckAccess(_ context.Context, appID, userID string) error {
	if c.claims == nil {
		return nil
	}
	if c.claims.AppID != "" && c.claims.AppID != appID {
		c.logger.Warn("token scoped to another app", "token_app", c.claims.AppID, "app_id", appID)
		return fmt.Errorf("%w: app %s", ErrAccessDenied, appID)
	}
	if userID != "" && userID != c.claims.UserID {
		c.logger.Warn("token subject mismatch", "token_sub", c.claims.UserID)
		return fmt.Errorf("%w: user mismatch", ErrAccessDenied)
	}
	return nil
}
