package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slaguard/slaguard/internal/database"
	"github.com/slaguard/slaguard/internal/testhelpers"
)

func newTestMiddleware(t *testing.T) (*JWTAuthMiddleware, *database.User) {
	t.Helper()
	db := testhelpers.SetupTestDB(t)

	hash, err := database.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &database.User{
		Username:     "supervisor1",
		PasswordHash: hash,
		Role:         database.UserRoleSupervisor,
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	m := NewJWTAuthMiddleware(&JWTAuthConfig{
		Enabled:        true,
		JWTSecret:      "test-secret",
		JWTExpiryHours: 1,
		SkipPaths:      []string{"/health", "/auth/*"},
	}, db)
	return m, user
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuthenticate(t *testing.T) {
	m, _ := newTestMiddleware(t)

	if _, ok := m.Authenticate("supervisor1", "s3cret"); !ok {
		t.Error("valid credentials rejected")
	}
	if _, ok := m.Authenticate("supervisor1", "wrong"); ok {
		t.Error("wrong password accepted")
	}
	if _, ok := m.Authenticate("nobody", "s3cret"); ok {
		t.Error("unknown user accepted")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m, user := newTestMiddleware(t)

	token, err := m.GenerateToken(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Username != "supervisor1" || claims.Role != "supervisor" || claims.UserID != user.ID {
		t.Errorf("claims = %+v", claims)
	}
}

func TestWrap_RejectsMissingAndBadTokens(t *testing.T) {
	m, user := newTestMiddleware(t)
	handler := m.Wrap(http.HandlerFunc(okHandler))

	// No token.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/policies", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	// Garbage token.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/policies", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	// Valid token.
	token, err := m.GenerateToken(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}
}

func TestWrap_SkipPaths(t *testing.T) {
	m, _ := newTestMiddleware(t)
	handler := m.Wrap(http.HandlerFunc(okHandler))

	for _, path := range []string{"/health", "/auth/login"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200 (skipped)", path, rec.Code)
		}
	}
}

func TestWrap_ClaimsReachContext(t *testing.T) {
	m, user := newTestMiddleware(t)

	var got *UserClaims
	handler := m.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetUserFromContext(r.Context())
	}))

	token, _ := m.GenerateToken(user)
	req := httptest.NewRequest(http.MethodGet, "/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Username != "supervisor1" {
		t.Fatalf("claims in context = %+v", got)
	}
}

func TestRequireRole(t *testing.T) {
	m, user := newTestMiddleware(t)
	gated := m.WrapFunc(RequireRole(okHandler, database.UserRoleAdmin))

	// A supervisor is refused admin-only operations.
	token, _ := m.GenerateToken(user)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	gated(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("supervisor on admin route: status = %d, want 403", rec.Code)
	}

	// An admin passes.
	admin := &database.User{Username: "root", PasswordHash: "x", Role: database.UserRoleAdmin, IsActive: true}
	if err := m.db.Create(admin).Error; err != nil {
		t.Fatalf("create admin: %v", err)
	}
	adminToken, _ := m.GenerateToken(admin)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/policies", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	gated(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin on admin route: status = %d, want 200", rec.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("request id missing from context")
		}
	}))

	// Generated when absent.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("request id header not set")
	}

	// Reused when the client supplies one.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "client-id-1" {
		t.Errorf("request id = %s, want client-id-1", got)
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := NewCORSMiddleware("https://app.example.com").Wrap(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("allowed origin not reflected")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin reflected")
	}

	// Preflight short-circuits.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", rec.Code)
	}
}
