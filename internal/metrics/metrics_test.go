package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestObserveRequestExposedViaHandler(t *testing.T) {
	r := New()
	r.ObserveRequest("GET", "/api/v1/users/:id", 200, 0.012)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `gateway_requests_total{method="GET",path="/api/v1/users/:id",status="200"} 1`) {
		t.Fatalf("requests_total not found in exposition:\n%s", body)
	}
	if !strings.Contains(body, "gateway_request_latency_seconds_bucket") {
		t.Fatalf("latency histogram not found in exposition:\n%s", body)
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	r := New()
	r.ConnectionStarted("api-v1")
	r.ConnectionStarted("api-v1")
	r.ConnectionFinished("api-v1")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `gateway_active_connections{route="api-v1"} 1`) {
		t.Fatalf("expected active_connections=1 after one finish:\n%s", rec.Body.String())
	}
}

func TestRecordKeyUsage(t *testing.T) {
	r := New()
	r.RecordKeyUsage("production-key", "api-v1")
	r.RecordKeyUsage("production-key", "api-v1")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `gateway_api_key_usage_total{api_key="production-key",route="api-v1"} 2`) {
		t.Fatalf("expected api_key_usage_total=2:\n%s", rec.Body.String())
	}
}

func TestSnapshotErrorRate(t *testing.T) {
	r := New()
	r.ObserveRequest("GET", "/ok", 200, 0.001)
	r.ObserveRequest("GET", "/ok", 200, 0.001)
	r.ObserveRequest("GET", "/boom", 502, 0.001)

	snap := r.Snapshot()
	if snap.TotalRequests != 3 {
		t.Fatalf("expected 3 total requests, got %d", snap.TotalRequests)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected 1 total error, got %d", snap.TotalErrors)
	}
	if rate := snap.ErrorRate(); rate < 0.333 || rate > 0.334 {
		t.Fatalf("expected error rate ~0.333, got %v", rate)
	}
}

func TestSnapshotErrorRateNoRequests(t *testing.T) {
	r := New()
	if rate := r.Snapshot().ErrorRate(); rate != 0 {
		t.Fatalf("expected 0 error rate with no requests, got %v", rate)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/users/1042":                          "/users/:id",
		"/orders/3fa85f6457174562b3fc2c963f66":  "/orders/:uuid",
		"/api/v1/users":                        "/api/v1/users",
		"/":                                    "/",
		"/users/1042/orders/99":                "/users/:id/orders/:id",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
