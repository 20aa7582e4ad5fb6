// Package config loads and validates the gateway's declarative
// configuration: listeners, routes, and API key pools.
package config

import "fmt"

// Strategy is the rule by which a key pool yields its next credential.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategyWeight     Strategy = "weight"
)

// KeyEntry is one credential in a pool.
type KeyEntry struct {
	Value   string `toml:"key"`
	Label   string `toml:"label"`
	Weight  uint32 `toml:"weight"`
	Enabled bool   `toml:"enabled"`
}

// keyEntryRaw mirrors KeyEntry but keeps Weight/Enabled as pointers so a
// missing TOML field is distinguishable from an explicit zero value,
// matching the source's serde `#[serde(default = "...")]` fields.
type keyEntryRaw struct {
	Key     string  `toml:"key"`
	Label   string  `toml:"label"`
	Weight  *uint32 `toml:"weight"`
	Enabled *bool   `toml:"enabled"`
}

func (r keyEntryRaw) resolve() KeyEntry {
	e := KeyEntry{Value: r.Key, Label: r.Label, Weight: 1, Enabled: true}
	if r.Weight != nil {
		e.Weight = *r.Weight
	}
	if r.Enabled != nil {
		e.Enabled = *r.Enabled
	}
	return e
}

// KeyPool is a named, ordered set of credentials plus the strategy and
// injection site used to attach one to an upstream request.
type KeyPool struct {
	Name           string
	Strategy       Strategy
	HeaderName     string
	QueryParamName string
	Keys           []KeyEntry
}

type keyPoolRaw struct {
	Strategy       Strategy      `toml:"strategy"`
	HeaderName     string        `toml:"header_name"`
	QueryParamName string        `toml:"query_param_name"`
	Keys           []keyEntryRaw `toml:"keys"`
}

func (r keyPoolRaw) resolve(name string) KeyPool {
	p := KeyPool{
		Name:           name,
		Strategy:       r.Strategy,
		HeaderName:     r.HeaderName,
		QueryParamName: r.QueryParamName,
	}
	if p.Strategy == "" {
		p.Strategy = StrategyRoundRobin
	}
	if p.HeaderName == "" {
		p.HeaderName = "Authorization"
	}
	for _, k := range r.Keys {
		p.Keys = append(p.Keys, k.resolve())
	}
	return p
}

// Route is a declarative mapping from a method+path predicate to an
// upstream target plus a rewrite policy.
type Route struct {
	Name        string
	PathPattern string
	Target      string
	Methods     []string
	StripPrefix bool
	APIKeyPool  string
	Headers     map[string]string
	Description string
	Enabled     bool
}

type routeRaw struct {
	Name        string            `toml:"name"`
	Path        string            `toml:"path"`
	Target      string            `toml:"target"`
	Methods     []string          `toml:"methods"`
	StripPrefix bool              `toml:"strip_prefix"`
	APIKeyPool  string            `toml:"api_key_pool"`
	Headers     map[string]string `toml:"headers"`
	Description string            `toml:"description"`
	Enabled     *bool             `toml:"enabled"`
}

func (r routeRaw) resolve() Route {
	rt := Route{
		Name:        r.Name,
		PathPattern: r.Path,
		Target:      r.Target,
		StripPrefix: r.StripPrefix,
		APIKeyPool:  r.APIKeyPool,
		Headers:     r.Headers,
		Description: r.Description,
		Enabled:     true,
	}
	for _, m := range r.Methods {
		rt.Methods = append(rt.Methods, normalizeMethod(m))
	}
	if r.Enabled != nil {
		rt.Enabled = *r.Enabled
	}
	return rt
}

// Listener is a host:port binding serving a configured set of routes plus
// the health, metrics, and guard endpoints.
type Listener struct {
	Name           string
	Host           string
	Port           int
	TimeoutSeconds int
	Routes         []string
}

type listenerRaw struct {
	Name           string   `toml:"name"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	TimeoutSeconds int      `toml:"timeout"`
	Routes         []string `toml:"routes"`
}

func (r listenerRaw) resolve() Listener {
	l := Listener{
		Name:           r.Name,
		Host:           r.Host,
		Port:           r.Port,
		TimeoutSeconds: r.TimeoutSeconds,
		Routes:         r.Routes,
	}
	if l.Host == "" {
		l.Host = "0.0.0.0"
	}
	if l.Port == 0 {
		l.Port = 8080
	}
	if l.TimeoutSeconds == 0 {
		l.TimeoutSeconds = 30
	}
	return l
}

// Guard is the optional master-token access check applied uniformly to
// every route on a listener.
type Guard struct {
	Enabled    bool
	HeaderName string
	Tokens     map[string]struct{}
}

type guardRaw struct {
	Enabled    bool     `toml:"enabled"`
	HeaderName string   `toml:"header_name"`
	Tokens     []string `toml:"tokens"`
}

func (r guardRaw) resolve() Guard {
	g := Guard{Enabled: r.Enabled, HeaderName: r.HeaderName}
	if g.HeaderName == "" {
		g.HeaderName = "Authorization"
	}
	g.Tokens = make(map[string]struct{}, len(r.Tokens))
	for _, t := range r.Tokens {
		g.Tokens[t] = struct{}{}
	}
	return g
}

// Allows reports whether token is one of the configured allow-listed
// tokens. When the guard is disabled every token is allowed.
func (g Guard) Allows(token string) bool {
	if !g.Enabled {
		return true
	}
	if len(g.Tokens) == 0 {
		return false
	}
	_, ok := g.Tokens[token]
	return ok
}

type metricsRaw struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

type healthRaw struct {
	Enabled *bool  `toml:"enabled"`
	Path    string `toml:"path"`
}

// fileConfig is the direct TOML decode target: every optional field is a
// pointer or carries a TOML-friendly zero value so missing keys can be
// told apart from explicit ones before defaults are applied.
type fileConfig struct {
	Server            listenerRaw           `toml:"server"`
	Servers           []listenerRaw         `toml:"servers"`
	Metrics           metricsRaw            `toml:"metrics"`
	Health            healthRaw             `toml:"health"`
	MasterAccessToken guardRaw              `toml:"master_access_token"`
	Routes            []routeRaw            `toml:"routes"`
	APIKeyPools       map[string]keyPoolRaw `toml:"api_key_pools"`
}

// Config is the resolved, immutable gateway configuration. Once loaded it
// is never mutated; reload builds and validates a fresh Config and the
// orchestrator swaps the reference atomically.
type Config struct {
	Listeners   []Listener
	MetricsPath string
	HealthPath  string
	Guard       Guard
	Routes      []Route
	Pools       map[string]KeyPool
}

func normalizeMethod(m string) string {
	out := make([]byte, len(m))
	for i := 0; i < len(m); i++ {
		c := m[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func (fc fileConfig) resolve() *Config {
	cfg := &Config{
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		Guard:       fc.MasterAccessToken.resolve(),
		Pools:       make(map[string]KeyPool, len(fc.APIKeyPools)),
	}
	if fc.Metrics.Path != "" {
		cfg.MetricsPath = fc.Metrics.Path
	}
	if fc.Health.Path != "" {
		cfg.HealthPath = fc.Health.Path
	}

	if len(fc.Servers) > 0 {
		for _, s := range fc.Servers {
			cfg.Listeners = append(cfg.Listeners, s.resolve())
		}
	} else {
		cfg.Listeners = []Listener{fc.Server.resolve()}
	}

	for _, r := range fc.Routes {
		cfg.Routes = append(cfg.Routes, r.resolve())
	}

	for name, p := range fc.APIKeyPools {
		cfg.Pools[name] = p.resolve(name)
	}

	return cfg
}

// EffectiveListeners returns the listener list; when none are configured
// it returns a singleton wrapping the legacy single-listener block (which
// resolve() already guarantees is always present).
func (c *Config) EffectiveListeners() []Listener {
	return c.Listeners
}

// RoutesFor returns, in route-definition order, the enabled routes a
// listener serves: every enabled route when the listener's ref list is
// empty, otherwise only the enabled routes named in that list.
func (c *Config) RoutesFor(l Listener) []Route {
	if len(l.Routes) == 0 {
		return c.enabledRoutes()
	}
	refs := make(map[string]struct{}, len(l.Routes))
	for _, r := range l.Routes {
		refs[r] = struct{}{}
	}
	var out []Route
	for _, r := range c.Routes {
		if !r.Enabled {
			continue
		}
		if _, ok := refs[r.Name]; ok {
			out = append(out, r)
			continue
		}
		if _, ok := refs[r.PathPattern]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (c *Config) enabledRoutes() []Route {
	var out []Route
	for _, r := range c.Routes {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// ListenerBindAddress returns the "host:port" address a listener binds.
func ListenerBindAddress(l Listener) string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}
