// Package gateway wires a loaded configuration into running listeners: a
// router and proxy engine per listener, a shared metrics registry and
// liveness probe, and the master-token guard in front of every endpoint.
// A config reload swaps this wiring under one lock; requests already
// in flight keep running against the old wiring until they complete.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/keygate/internal/config"
	"github.com/wudi/keygate/internal/gwerr"
	"github.com/wudi/keygate/internal/guard"
	"github.com/wudi/keygate/internal/health"
	"github.com/wudi/keygate/internal/keypool"
	"github.com/wudi/keygate/internal/listener"
	"github.com/wudi/keygate/internal/logging"
	"github.com/wudi/keygate/internal/metrics"
	"github.com/wudi/keygate/internal/proxyengine"
	"github.com/wudi/keygate/internal/router"
)

func init() {
	uuid.EnableRandPool()
}

// state is everything built fresh from one Config load: the Config itself
// and the per-listener handlers. The metrics registry and health checker
// live on Gateway and survive reloads.
type state struct {
	cfg      *config.Config
	handlers map[string]http.Handler // listener bind address -> root handler
}

// Gateway owns the listener Manager and the currently active state. A
// reload rebuilds state from a new Config and atomically swaps it in;
// the listener Manager itself is never restarted by a reload, since its
// bind addresses are assumed stable between reloads (changing them
// requires a process restart).
type Gateway struct {
	version string
	client  *http.Client

	health  *health.Checker
	metrics *metrics.Registry

	mgr *listener.Manager

	mu    sync.RWMutex
	state *state
}

// New builds a Gateway from an initial Config, binding one listener.HTTPListener
// per effective listener. It does not start serving; call Run to do that.
func New(cfg *config.Config, version string, client *http.Client) (*Gateway, error) {
	if client == nil {
		client = &http.Client{}
	}
	g := &Gateway{
		version: version,
		client:  client,
		health:  health.New(version),
		metrics: metrics.New(),
		mgr:     listener.NewManager(),
	}

	st, err := g.build(cfg)
	if err != nil {
		return nil, err
	}
	g.state = st

	for _, l := range cfg.EffectiveListeners() {
		addr := config.ListenerBindAddress(l)
		hl, err := listener.NewHTTPListener(listener.HTTPListenerConfig{
			ID:      addr,
			Address: addr,
			Handler: dispatchToCurrent(g, addr),
		})
		if err != nil {
			return nil, fmt.Errorf("build listener %s: %w", addr, err)
		}
		if err := g.mgr.Add(hl); err != nil {
			return nil, err
		}
	}

	return g, nil
}

// dispatchToCurrent returns a handler that always looks up the live
// handler for addr under the Gateway's lock, so a reload takes effect for
// the next request without restarting the listener.
func dispatchToCurrent(g *Gateway, addr string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.RLock()
		h, ok := g.state.handlers[addr]
		g.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// build constructs one root handler per effective listener: guard ->
// {health, metrics, proxy} dispatch, all sharing one metrics registry,
// health checker and key-pool registry built from cfg.
func (g *Gateway) build(cfg *config.Config) (*state, error) {
	keys := keypool.NewRegistry(cfg.Pools)

	handlers := make(map[string]http.Handler, len(cfg.EffectiveListeners()))
	for _, l := range cfg.EffectiveListeners() {
		routes := cfg.RoutesFor(l)
		matcher := router.NewMatcher(routes)
		timeout := time.Duration(l.TimeoutSeconds) * time.Second
		engine := proxyengine.New(g.client, matcher, keys, g.metrics, timeout)

		mux := httprouter.New()
		mux.HandlerFunc(http.MethodGet, cfg.HealthPath, func(w http.ResponseWriter, r *http.Request) {
			g.writeHealth(w)
		})
		mux.Handler(http.MethodGet, cfg.MetricsPath, g.metrics.Handler())
		mux.NotFound = engine

		addr := config.ListenerBindAddress(l)
		handlers[addr] = withRequestID(guard.Middleware(cfg.Guard, mux))
	}

	return &state{cfg: cfg, handlers: handlers}, nil
}

// Reload rebuilds every listener's handler from a freshly validated
// Config and swaps it in under one lock. In-flight requests already
// dispatched to the old handler run to completion unaffected; the next
// request on each listener sees the new wiring.
func (g *Gateway) Reload(cfg *config.Config) error {
	st, err := g.build(cfg)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.state = st
	g.mu.Unlock()
	logging.Info("configuration reloaded", zap.Int("listeners", len(cfg.EffectiveListeners())), zap.Int("routes", len(cfg.Routes)))
	return nil
}

// Run starts every listener and blocks until ctx is canceled or a
// listener fails, then drains all listeners before returning.
func (g *Gateway) Run(ctx context.Context) error {
	startErr := g.mgr.StartAll(ctx)
	stopErr := g.mgr.StopAll(context.Background())
	if startErr != nil {
		return startErr
	}
	return stopErr
}

// SetReady flips the readiness flag reported by the health endpoint.
func (g *Gateway) SetReady(ready bool) {
	g.health.SetReady(ready)
}

// MetricsSnapshot exposes the request/error tally of the shared metrics
// registry.
func (g *Gateway) MetricsSnapshot() metrics.Snapshot {
	return g.metrics.Snapshot()
}

func (g *Gateway) writeHealth(w http.ResponseWriter) {
	resp := g.health.Readiness()
	status := http.StatusOK
	if resp.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	gwerr.WriteJSON(w, status, resp)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
