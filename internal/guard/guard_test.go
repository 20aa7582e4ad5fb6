package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wudi/keygate/internal/config"
)

func passthrough() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuardDisabledPassesThrough(t *testing.T) {
	h := Middleware(config.Guard{Enabled: false}, passthrough())
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGuardRejectsBadToken(t *testing.T) {
	g := config.Guard{Enabled: true, HeaderName: "X-T", Tokens: map[string]struct{}{"ok": {}}}
	h := Middleware(g, passthrough())

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-T", "bad")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != "Invalid or missing access token" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestGuardAllowsGoodToken(t *testing.T) {
	g := config.Guard{Enabled: true, HeaderName: "X-T", Tokens: map[string]struct{}{"ok": {}}}
	h := Middleware(g, passthrough())

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-T", "ok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGuardRejectsMissingToken(t *testing.T) {
	g := config.Guard{Enabled: true, HeaderName: "X-T", Tokens: map[string]struct{}{"ok": {}}}
	h := Middleware(g, passthrough())

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}
}
