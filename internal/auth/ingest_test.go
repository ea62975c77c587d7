package auth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func signedRequest(secret []byte, ts time.Time, body string) *http.Request {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/ingest/devices/A/state", strings.NewReader(body))
	req.Header.Set(HeaderIngestTimestamp, timestamp)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, timestamp, []byte(body)))
	return req
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
}

func TestIngestAuth_ValidSignature(t *testing.T) {
	secret := []byte("ingest-secret")
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mw := NewIngestAuthMiddleware(secret, time.Minute)
	mw.Now = func() time.Time { return now }

	resp := httptest.NewRecorder()
	mw.Wrap(echoHandler()).ServeHTTP(resp, signedRequest(secret, now.Add(-10*time.Second), `{"status":"ON"}`))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp.Body.String() != `{"status":"ON"}` {
		t.Fatalf("body not restored: %q", resp.Body.String())
	}
}

func TestIngestAuth_Rejects(t *testing.T) {
	secret := []byte("ingest-secret")
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mw := NewIngestAuthMiddleware(secret, time.Minute)
	mw.Now = func() time.Time { return now }
	handler := mw.Wrap(echoHandler())

	tampered := signedRequest(secret, now, `{"status":"ON"}`)
	tampered.Body = io.NopCloser(strings.NewReader(`{"status":"OFF"}`))

	missing := httptest.NewRequest(http.MethodPost, "/ingest/devices/A/state", strings.NewReader("{}"))

	cases := map[string]*http.Request{
		"expired":   signedRequest(secret, now.Add(-time.Hour), `{}`),
		"wrong key": signedRequest([]byte("other"), now, `{}`),
		"tampered":  tampered,
		"missing":   missing,
	}
	for name, req := range cases {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.Code)
		}
	}
}

func TestIngestAuth_NoSecretConfigured(t *testing.T) {
	resp := httptest.NewRecorder()
	NewIngestAuthMiddleware(nil, 0).Wrap(echoHandler()).ServeHTTP(resp, signedRequest([]byte("x"), time.Now(), "{}"))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestIngestAuth_BodyTooLarge(t *testing.T) {
	secret := []byte("ingest-secret")
	now := time.Now()
	mw := NewIngestAuthMiddleware(secret, time.Minute)

	body := strings.Repeat("x", maxIngestBody+1)
	resp := httptest.NewRecorder()
	mw.Wrap(echoHandler()).ServeHTTP(resp, signedRequest(secret, now, body))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}
