package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"Bt1QMix/core/auth"
)

func testAuthHandler(t *testing.T) *APIHandler {
	t.Helper()
	svc, err := auth.NewService("hunter2", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	return &APIHandler{authSvc: svc}
}

// --- Login ---

func TestLoginHandlerIssuesToken(t *testing.T) {
	h := testAuthHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"hunter2"}`))
	rec := httptest.NewRecorder()

	h.LoginHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	var resp loginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, err := h.authSvc.ParseToken(resp.Token); err != nil {
		t.Errorf("issued token does not verify: %v", err)
	}
}

func TestLoginHandlerRejectsWrongPassword(t *testing.T) {
	h := testAuthHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"wrong"}`))
	rec := httptest.NewRecorder()

	h.LoginHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", rec.Code)
	}
}

func TestLoginHandlerRejectsBadRequests(t *testing.T) {
	h := testAuthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/login", nil)
	rec := httptest.NewRecorder()
	h.LoginHandler(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status %d, want 405", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	h.LoginHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status %d, want 400", rec.Code)
	}
}

// --- Middleware ---

func TestAuthMiddlewareAcceptsValidToken(t *testing.T) {
	h := testAuthHandler(t)
	token, err := h.authSvc.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	called := false
	guarded := h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/clock/start", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	guarded(rec, req)

	if !called {
		t.Error("guarded handler never ran")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status %d, want 204", rec.Code)
	}
}

func TestAuthMiddlewareRejectsBadCredentials(t *testing.T) {
	h := testAuthHandler(t)
	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwdw=="},
		{"no token", "Bearer"},
		{"garbage token", "Bearer not-a-token"},
	}
	for _, c := range cases {
		called := false
		guarded := h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) { called = true })

		req := httptest.NewRequest(http.MethodPost, "/api/clock/start", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		guarded(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", c.name, rec.Code)
		}
		if called {
			t.Errorf("%s: guarded handler ran", c.name)
		}
	}
}
