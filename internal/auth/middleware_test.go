package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFromContext(r.Context()); !ok || id.Role == "" {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, handler http.Handler, method, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp.Code
}

func mustToken(t *testing.T, secret []byte, role Role) string {
	t.Helper()
	token, err := SignJWT(secret, "user-1", role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	if code := serve(t, handler, http.MethodGet, "/api/v1/feed", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthMiddleware_ViewerReadsFeed(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())
	token := mustToken(t, secret, RoleViewer)

	for _, path := range []string{"/api/v1/feed", "/api/v1/devices", "/api/v1/devices/A", "/api/v1/components"} {
		if code := serve(t, handler, http.MethodGet, path, token); code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, code)
		}
	}
}

func TestAuthMiddleware_ViewerForbiddenComponentRegistration(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	if code := serve(t, handler, http.MethodPost, "/api/v1/components", mustToken(t, secret, RoleViewer)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, handler, http.MethodPost, "/api/v1/components", mustToken(t, secret, RoleAdmin)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthMiddleware_ViewerForbiddenExport(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	if code := serve(t, handler, http.MethodGet, "/api/v1/feed/export.xlsx", mustToken(t, secret, RoleViewer)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, handler, http.MethodGet, "/api/v1/feed/export.pdf", mustToken(t, secret, RoleOperator)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	handler := NewMiddleware([]byte("server"), NewDefaultPolicy(nil, nil)).Wrap(okHandler())
	token := mustToken(t, []byte("other"), RoleAdmin)
	if code := serve(t, handler, http.MethodGet, "/api/v1/feed", token); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := NewMiddleware([]byte("s"), NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})).Wrap(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	for _, path := range []string{"/healthz", "/metrics", "/ingest/devices/A/state"} {
		if code := serve(t, handler, http.MethodGet, path, ""); code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, code)
		}
	}
}

func TestAuthMiddleware_OperatorReadsExpiry(t *testing.T) {
	secret := []byte("test-secret")
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(okHandler())

	if code := serve(t, handler, http.MethodGet, "/api/v1/expiry", mustToken(t, secret, RoleViewer)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, handler, http.MethodGet, "/api/v1/expiry", mustToken(t, secret, RoleOperator)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAuthMiddleware_StoresIdentity(t *testing.T) {
	secret := []byte("test-secret")
	var got Identity
	var found bool
	handler := NewMiddleware(secret, NewDefaultPolicy(nil, nil)).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = IdentityFromContext(r.Context())
	}))

	serve(t, handler, http.MethodGet, "/api/v1/feed", mustToken(t, secret, RoleOperator))
	if !found || got.Role != RoleOperator || got.Subject != "user-1" {
		t.Fatalf("unexpected identity %+v (found=%v)", got, found)
	}
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatalf("identity found on bare context")
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{" Admin ": RoleAdmin, "viewer": RoleViewer, "OPERATOR": RoleOperator}
	for in, want := range cases {
		got, ok := NormalizeRole(in)
		if !ok || got != want {
			t.Fatalf("NormalizeRole(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := NormalizeRole("root"); ok {
		t.Fatalf("unknown role accepted")
	}
	if RoleAtLeast("", RoleViewer) {
		t.Fatalf("empty role must grant nothing")
	}
}
