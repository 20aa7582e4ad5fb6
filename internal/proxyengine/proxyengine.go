// Package proxyengine wraps a single outbound HTTP client and the
// resolve-rewrite-forward pipeline that turns a matched route into an
// upstream request and a pass-through response.
package proxyengine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/keygate/internal/config"
	"github.com/wudi/keygate/internal/gwerr"
	"github.com/wudi/keygate/internal/keypool"
	"github.com/wudi/keygate/internal/logging"
	"github.com/wudi/keygate/internal/metrics"
	"github.com/wudi/keygate/internal/router"
)

// Engine forwards requests matched by a router.Matcher to their resolved
// upstream target, injecting API keys from keypool.Registry and recording
// outcomes into a metrics.Registry.
type Engine struct {
	client  *http.Client
	matcher *router.Matcher
	keys    *keypool.Registry
	metrics *metrics.Registry
	timeout time.Duration
}

// New builds an Engine. The client is expected to be shared across every
// listener and request the engine serves. timeout bounds the entire
// dispatch-to-response pipeline for a matched request; a non-positive value
// falls back to the listener's own default of 30s.
func New(client *http.Client, matcher *router.Matcher, keys *keypool.Registry, m *metrics.Registry, timeout time.Duration) *Engine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{client: client, matcher: matcher, keys: keys, metrics: m, timeout: timeout}
}

// ServeHTTP implements the resolve → rewrite → forward pipeline. Every
// gateway-internal failure is written as a plain-text body via gwerr.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("panic in proxy handler", zap.Any("panic", rec))
			gwerr.WriteText(w, http.StatusInternalServerError, "Internal server error")
		}
	}()
	start := time.Now()
	method := r.Method
	path := r.URL.Path
	normalizedPath := metrics.NormalizePath(path)

	route, ok := e.matcher.Match(path, method)
	if !ok {
		e.metrics.ObserveRequest(method, normalizedPath, http.StatusNotFound, time.Since(start).Seconds())
		gwerr.New(gwerr.KindNoRouteMatched, http.StatusNotFound, "No matching route found").WriteText(w)
		return
	}

	selector, pick, hasPick := e.resolveKey(r, route)

	targetURL := e.buildTargetURL(r, route, path, selector, pick, hasPick)

	routeLabel := routeMetricLabel(route)
	if hasPick {
		label := pick.Label
		if label == "" {
			label = pick.Value
		}
		e.metrics.RecordKeyUsage(label, routeLabel)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		e.metrics.ObserveRequest(method, normalizedPath, http.StatusInternalServerError, time.Since(start).Seconds())
		gwerr.New(gwerr.KindInboundBody, http.StatusInternalServerError, "Failed to read request body").WriteText(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), e.timeout)
	defer cancel()

	upstreamReq, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		e.metrics.ObserveRequest(method, normalizedPath, http.StatusBadGateway, time.Since(start).Seconds())
		gwerr.New(gwerr.KindUpstreamTransport, http.StatusBadGateway, "Failed to forward request").WriteText(w)
		return
	}
	applyHeaders(upstreamReq, r.Header, route, targetURL, selector, pick, hasPick)

	e.metrics.ConnectionStarted(routeLabel)
	resp, err := e.client.Do(upstreamReq)
	e.metrics.ConnectionFinished(routeLabel)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.metrics.ObserveRequest(method, normalizedPath, http.StatusGatewayTimeout, time.Since(start).Seconds())
			gwerr.New(gwerr.KindDeadlineExceeded, http.StatusGatewayTimeout, "Request exceeded the configured deadline").WriteText(w)
			return
		}
		e.metrics.ObserveRequest(method, normalizedPath, http.StatusBadGateway, time.Since(start).Seconds())
		gwerr.New(gwerr.KindUpstreamTransport, http.StatusBadGateway, "Failed to forward request").WriteText(w)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			e.metrics.ObserveRequest(method, normalizedPath, http.StatusGatewayTimeout, time.Since(start).Seconds())
			gwerr.New(gwerr.KindDeadlineExceeded, http.StatusGatewayTimeout, "Request exceeded the configured deadline").WriteText(w)
			return
		}
		e.metrics.ObserveRequest(method, normalizedPath, http.StatusBadGateway, time.Since(start).Seconds())
		gwerr.New(gwerr.KindUpstreamBody, http.StatusBadGateway, "Failed to read response body").WriteText(w)
		return
	}

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	e.metrics.ObserveRequest(method, normalizedPath, resp.StatusCode, time.Since(start).Seconds())
}

// resolveKey determines the selector in effect for this request (query
// override wins over the route's configured pool) and picks a key from it.
func (e *Engine) resolveKey(r *http.Request, route config.Route) (selector *keypool.Selector, pick keypool.Pick, ok bool) {
	poolOverride, _ := router.ExtractAPIKeyPool(r.URL.RawQuery)

	if poolOverride != "" {
		if s := e.keys.Get(poolOverride); s != nil {
			selector = s
		}
	}
	if selector == nil && route.APIKeyPool != "" {
		selector = e.keys.Get(route.APIKeyPool)
	}
	if selector == nil {
		return nil, keypool.Pick{}, false
	}
	pick, ok = selector.Pick()
	return selector, pick, ok
}

func (e *Engine) buildTargetURL(r *http.Request, route config.Route, path string, selector *keypool.Selector, pick keypool.Pick, hasPick bool) string {
	_, filteredQuery := router.ExtractAPIKeyPool(r.URL.RawQuery)
	targetURL := router.TargetURL(route, path, filteredQuery)

	if hasPick && selector.QueryParamName() != "" {
		sep := "?"
		if filteredQuery != "" {
			sep = "&"
		}
		targetURL += sep + selector.QueryParamName() + "=" + strings.ReplaceAll(url.QueryEscape(pick.Value), "+", "%20")
	}
	return targetURL
}

// applyHeaders copies the inbound headers minus hop-by-hop, sets Host from
// the upstream authority, applies the route's static headers, then injects
// the picked key as a header when it wasn't already injected via query.
func applyHeaders(upstreamReq *http.Request, inbound http.Header, route config.Route, targetURL string, selector *keypool.Selector, pick keypool.Pick, hasPick bool) {
	for name, values := range inbound {
		if router.IsHopByHopHeader(name) {
			continue
		}
		for _, v := range values {
			upstreamReq.Header.Add(name, v)
		}
	}

	if host, ok := router.ExtractHost(targetURL); ok {
		upstreamReq.Host = host
	}

	for name, value := range route.Headers {
		upstreamReq.Header.Set(name, value)
	}

	if hasPick && selector.QueryParamName() == "" {
		upstreamReq.Header.Set(selector.HeaderName(), pick.Value)
	}
}

func routeMetricLabel(route config.Route) string {
	if route.Name != "" {
		return route.Name
	}
	return route.PathPattern
}
