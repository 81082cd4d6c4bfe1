package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reportly/internal/config"
	"reportly/internal/types"
)

type stubAuthenticator struct {
	actor *types.Actor
	err   error
	seen  []string
}

func (s *stubAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	s.seen = append(s.seen, token)
	if s.err != nil {
		return nil, s.err
	}
	return s.actor, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- RequestID ---

func TestRequestID_EchoesCallerID(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-supplied-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if ctxID != "req-supplied-1" {
		t.Errorf("expected context request id req-supplied-1, got %q", ctxID)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-supplied-1" {
		t.Errorf("expected header echo, got %q", got)
	}
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var ctxID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if ctxID == "" {
		t.Error("expected a generated request id in context")
	}
	if rr.Header().Get("X-Request-ID") != ctxID {
		t.Error("expected header to match context id")
	}
}

// --- Recoverer ---

func TestRecoverer_WritesSafe500(t *testing.T) {
	s := newTestServer(t)
	handler := s.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-panic-1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, string(types.ErrCodeInternalUnexpected)) {
		t.Errorf("expected internal error code in body, got %s", body)
	}
	if !strings.Contains(body, "req-panic-1") {
		t.Errorf("expected request id in body, got %s", body)
	}
	if strings.Contains(body, "boom") {
		t.Error("panic value must not leak to the client")
	}
}

// --- SecurityHeaders ---

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
}

// --- AuthMiddleware ---

func TestAuthMiddleware_NilAuthenticatorPassesThrough(t *testing.T) {
	s := newTestServer(t)
	handler := s.AuthMiddleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("expected pass-through 200, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := newTestServer(t)
	s.Authenticator = &stubAuthenticator{}
	handler := s.AuthMiddleware(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ResolvesActor(t *testing.T) {
	s := newTestServer(t)
	auth := &stubAuthenticator{actor: &types.Actor{AccountID: "acct_1", Role: types.RoleUser}}
	s.Authenticator = auth

	var gotActor types.Actor
	var hadActor bool
	handler := s.AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor, hadActor = types.GetActor(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok_abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !hadActor {
		t.Fatal("expected actor in downstream context")
	}
	if gotActor.AccountID != "acct_1" {
		t.Errorf("expected acct_1, got %q", gotActor.AccountID)
	}
	if len(auth.seen) != 1 || auth.seen[0] != "tok_abc" {
		t.Errorf("expected token tok_abc resolved once, got %v", auth.seen)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	s := newTestServer(t)
	s.Authenticator = &stubAuthenticator{err: errors.New("token rejected")}
	handler := s.AuthMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok_bad")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), string(types.ErrCodeAuthTokenInvalid)) {
		t.Errorf("expected auth_token_invalid code, got %s", rr.Body.String())
	}
}

func TestAuthMiddleware_SuspendedAccount(t *testing.T) {
	s := newTestServer(t)
	s.Authenticator = &stubAuthenticator{
		actor: &types.Actor{AccountID: "acct_1", Role: types.RoleUser, Suspended: true},
	}
	handler := s.AuthMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok_abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), string(types.ErrCodePermissionSuspended)) {
		t.Errorf("expected suspension code, got %s", rr.Body.String())
	}
}

// --- RequireAdmin ---

func TestRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	handler := s.RequireAdmin(okHandler())

	tests := []struct {
		name       string
		actor      *types.Actor
		wantStatus int
	}{
		{"admin passes", &types.Actor{AccountID: "acct_adm", Role: types.RoleAdmin}, http.StatusOK},
		{"user rejected", &types.Actor{AccountID: "acct_1", Role: types.RoleUser}, http.StatusForbidden},
		{"tester rejected", &types.Actor{AccountID: "acct_2", Role: types.RoleTester}, http.StatusForbidden},
		{"no actor rejected", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.actor != nil {
				req = req.WithContext(types.WithActor(req.Context(), *tt.actor))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

// --- extractBearerToken ---

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard", "Bearer tok_123", "tok_123"},
		{"lowercase scheme", "bearer tok_123", "tok_123"},
		{"trailing whitespace", "Bearer tok_123  ", "tok_123"},
		{"empty header", "", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBearerToken(tt.header); got != tt.want {
				t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
