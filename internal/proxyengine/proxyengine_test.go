package proxyengine

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wudi/keygate/internal/config"
	"github.com/wudi/keygate/internal/keypool"
	"github.com/wudi/keygate/internal/metrics"
	"github.com/wudi/keygate/internal/router"
)

func newEngine(t *testing.T, upstream *httptest.Server, route config.Route, pools map[string]config.KeyPool) *Engine {
	t.Helper()
	route.Target = upstream.URL
	m := router.NewMatcher([]config.Route{route})
	reg := keypool.NewRegistry(pools)
	mx := metrics.New()
	return New(upstream.Client(), m, reg, mx, 5*time.Second)
}

func TestStripPrefixRewrite(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, Enabled: true}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotPath != "/users" {
		t.Fatalf("expected upstream path /users, got %q", gotPath)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNoStripPrefixRewrite(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: false, Enabled: true}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotPath != "/api/users" {
		t.Fatalf("expected upstream path /api/users, got %q", gotPath)
	}
}

func TestNoRouteMatched(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", Enabled: true}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/other", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if string(body) != "No matching route found" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestKeyInjectedAsHeader(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-API-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, APIKeyPool: "default", Enabled: true}
	pools := map[string]config.KeyPool{
		"default": {
			Name:       "default",
			Strategy:   config.StrategyRoundRobin,
			HeaderName: "X-API-Key",
			Keys:       []config.KeyEntry{{Value: "secret123", Enabled: true}},
		},
	}
	e := newEngine(t, upstream, route, pools)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotHeader != "secret123" {
		t.Fatalf("expected key injected as header, got %q", gotHeader)
	}
}

func TestKeyInjectedAsQueryParam(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, APIKeyPool: "default", Enabled: true}
	pools := map[string]config.KeyPool{
		"default": {
			Name:           "default",
			Strategy:       config.StrategyRoundRobin,
			QueryParamName: "key",
			Keys:           []config.KeyEntry{{Value: "secret123", Enabled: true}},
		},
	}
	e := newEngine(t, upstream, route, pools)

	req := httptest.NewRequest("GET", "/api/users?page=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotQuery != "page=1&key=secret123" {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
}

func TestKeyValuePercentEncodedInQuery(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, APIKeyPool: "default", Enabled: true}
	pools := map[string]config.KeyPool{
		"default": {
			Name:           "default",
			QueryParamName: "api_key",
			Keys:           []config.KeyEntry{{Value: "s c", Enabled: true}},
		},
	}
	e := newEngine(t, upstream, route, pools)

	req := httptest.NewRequest("GET", "/api/x", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotQuery != "api_key=s%20c" {
		t.Fatalf("expected percent-encoded key value, got %q", gotQuery)
	}
}

func TestPoolOverrideViaQuery(t *testing.T) {
	var gotHeader, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-API-Key")
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, APIKeyPool: "default", Enabled: true}
	pools := map[string]config.KeyPool{
		"default": {
			Name:       "default",
			HeaderName: "X-API-Key",
			Keys:       []config.KeyEntry{{Value: "default-key", Enabled: true}},
		},
		"override": {
			Name:       "override",
			HeaderName: "X-API-Key",
			Keys:       []config.KeyEntry{{Value: "override-key", Enabled: true}},
		},
	}
	e := newEngine(t, upstream, route, pools)

	req := httptest.NewRequest("GET", "/api/users?api_key_pool=override", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotHeader != "override-key" {
		t.Fatalf("expected override pool key, got %q", gotHeader)
	}
	if gotQuery != "" {
		t.Fatalf("expected api_key_pool stripped from forwarded query, got %q", gotQuery)
	}
}

func TestHostHeaderRewrittenToUpstream(t *testing.T) {
	var gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, Enabled: true}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/api/users", nil)
	req.Host = "client-supplied-host.example"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	wantHost, _ := router.ExtractHost(upstream.URL)
	if gotHost != wantHost {
		t.Fatalf("expected Host rewritten to %q, got %q", wantHost, gotHost)
	}
}

func TestStaticHeadersApplied(t *testing.T) {
	var gotHeader string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{
		PathPattern: "/api/*",
		StripPrefix: true,
		Enabled:     true,
		Headers:     map[string]string{"X-Custom": "static-value"},
	}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotHeader != "static-value" {
		t.Fatalf("expected static header applied, got %q", gotHeader)
	}
}

func TestRequestDeadlineExceededReturns504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, Enabled: true, Target: upstream.URL}
	m := router.NewMatcher([]config.Route{route})
	e := New(upstream.Client(), m, keypool.NewRegistry(nil), metrics.New(), 5*time.Millisecond)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if string(body) != "Request exceeded the configured deadline" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestUpstreamStatusPassedThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("I'm a teapot"))
	}))
	defer upstream.Close()

	route := config.Route{PathPattern: "/api/*", StripPrefix: true, Enabled: true}
	e := newEngine(t, upstream, route, nil)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected upstream status passed through, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if string(body) != "I'm a teapot" {
		t.Fatalf("unexpected body: %q", body)
	}
}
