// Package metrics wraps a dedicated Prometheus registry exposing the
// gateway's four request-level series and a small atomic request/error
// tally exposed through Snapshot.
package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Buckets are the histogram bucket upper bounds, in seconds, for
// request_latency_seconds.
var Buckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	hexSegment     = regexp.MustCompile(`^[0-9a-fA-F]{8,}$`)
)

// Registry owns one Prometheus registry and the gateway's series. It is
// built once per process; config reloads do not recreate it, since series
// identity must survive across reloads for scrapers to see continuity.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestLatency   *prometheus.HistogramVec
	activeConns      *prometheus.GaugeVec
	apiKeyUsageTotal *prometheus.CounterVec

	totalRequests uint64
	totalErrors   uint64
}

// New builds a Registry with all four gateway series registered against a
// fresh prometheus.Registry (not the global DefaultRegisterer, so tests and
// multiple gateway instances in one process never collide).
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"method", "path", "status"}),
		requestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_latency_seconds",
			Help:    "Request latency in seconds, from accept to response fully written.",
			Buckets: Buckets,
		}, []string{"method", "path"}),
		activeConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Number of requests currently being proxied, by route.",
		}, []string{"route"}),
		apiKeyUsageTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_api_key_usage_total",
			Help: "Total number of times an API key was selected to forward a request.",
		}, []string{"api_key", "route"}),
	}
}

// ObserveRequest records one completed request against all request-level
// series. path should already be normalized via NormalizePath.
func (r *Registry) ObserveRequest(method, path string, status int, seconds float64) {
	statusStr := strconv.Itoa(status)
	r.requestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.requestLatency.WithLabelValues(method, path).Observe(seconds)

	atomic.AddUint64(&r.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&r.totalErrors, 1)
	}
}

// ConnectionStarted increments the in-flight gauge for route.
func (r *Registry) ConnectionStarted(route string) {
	r.activeConns.WithLabelValues(route).Inc()
}

// ConnectionFinished decrements the in-flight gauge for route.
func (r *Registry) ConnectionFinished(route string) {
	r.activeConns.WithLabelValues(route).Dec()
}

// RecordKeyUsage records that apiKeyLabel (the key's display label, or the
// raw key value when the key has no label) was used to forward a request
// for route.
func (r *Registry) RecordKeyUsage(apiKeyLabel, route string) {
	r.apiKeyUsageTotal.WithLabelValues(apiKeyLabel, route).Inc()
}

// Snapshot is the plain counters exposed to the liveness/monitor surface,
// independent of the Prometheus text format.
type Snapshot struct {
	TotalRequests uint64
	TotalErrors   uint64
}

// ErrorRate returns TotalErrors/TotalRequests, or 0 when no requests have
// been observed yet.
func (s Snapshot) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalRequests)
}

// Snapshot returns the current request/error tally.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: atomic.LoadUint64(&r.totalRequests),
		TotalErrors:   atomic.LoadUint64(&r.totalErrors),
	}
}

// Handler returns the http.Handler exposing this registry's series in
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// NormalizePath collapses path segments that look like identifiers so that
// per-request paths (/users/1042, /orders/3fa85f64...) collapse into a
// bounded label cardinality instead of one series per distinct value.
// All-digit segments become :id; segments of 8 or more hex characters
// become :uuid.
func NormalizePath(path string) string {
	segments := splitPath(path)
	for i, seg := range segments {
		switch {
		case numericSegment.MatchString(seg):
			segments[i] = ":id"
		case hexSegment.MatchString(seg):
			segments[i] = ":uuid"
		}
	}
	return joinPath(segments)
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	return segments
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	out := ""
	for _, s := range segments {
		out += "/" + s
	}
	return out
}
