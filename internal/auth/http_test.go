// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers token extraction, validation, and anonymous passthrough

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func claimsCapturingHandler(got **SessionClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	token, _ := verifier.Generate("user-123", "app-1", time.Hour)

	var got *SessionClaims
	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	Middleware(verifier)(claimsCapturingHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got == nil {
		t.Fatal("expected claims in context")
	}
	if got.UserID != "user-123" {
		t.Errorf("expected user 'user-123', got %q", got.UserID)
	}
	if got.AppID != "app-1" {
		t.Errorf("expected app 'app-1', got %q", got.AppID)
	}
}

func TestMiddleware_TokenFromQueryParam(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	token, _ := verifier.Generate("user-123", "", time.Hour)

	var got *SessionClaims
	req := httptest.NewRequest(http.MethodGet, "/widget/ws?token="+token, nil)
	rec := httptest.NewRecorder()

	Middleware(verifier)(claimsCapturingHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got == nil || got.UserID != "user-123" {
		t.Fatalf("expected claims for user-123, got %+v", got)
	}
}

func TestMiddleware_MissingToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	rec := httptest.NewRecorder()

	Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()

	Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rec.Code)
	}
}

func TestOptionalMiddleware_AnonymousPassthrough(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	var got *SessionClaims
	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	rec := httptest.NewRecorder()

	OptionalMiddleware(verifier)(claimsCapturingHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got != nil {
		t.Errorf("expected anonymous request, got claims %+v", got)
	}
}

func TestOptionalMiddleware_InvalidTokenIsAnonymous(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)

	var got *SessionClaims
	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()

	OptionalMiddleware(verifier)(claimsCapturingHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if got != nil {
		t.Errorf("expected anonymous request, got claims %+v", got)
	}
}

func TestOptionalMiddleware_ValidTokenAttachesClaims(t *testing.T) {
	verifier := NewJWTVerifier(httpTestSecret)
	token, _ := verifier.Generate("user-9", "", time.Hour)

	var got *SessionClaims
	req := httptest.NewRequest(http.MethodGet, "/widget/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	OptionalMiddleware(verifier)(claimsCapturingHandler(&got)).ServeHTTP(rec, req)

	if got == nil || got.UserID != "user-9" {
		t.Fatalf("expected claims for user-9, got %+v", got)
	}
}
