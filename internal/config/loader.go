package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file at path, applies defaults,
// and validates it. Load fails with a structured error identifying the
// offending route/pool/listener by name.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a TOML document into a Config, applies defaults, and
// validates it.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg := fc.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces invariants 1-5. It is called by Parse/Load, and is
// exported so callers building a Config programmatically can check it
// directly.
func (c *Config) Validate() error {
	// Invariant 1: every route.api_key_pool references a pool that exists.
	for _, r := range c.Routes {
		if r.APIKeyPool == "" {
			continue
		}
		if _, ok := c.Pools[r.APIKeyPool]; !ok {
			name := r.Name
			if name == "" {
				name = r.PathPattern
			}
			return fmt.Errorf("route %q references unknown API key pool %q", name, r.APIKeyPool)
		}
	}

	// Invariant 2: every pool has at least one enabled entry.
	for name, p := range c.Pools {
		hasEnabled := false
		for _, k := range p.Keys {
			if k.Enabled {
				hasEnabled = true
				break
			}
		}
		if !hasEnabled {
			return fmt.Errorf("API key pool %q has no enabled keys", name)
		}
	}

	// Invariant 3: every listener.routes ref resolves to a route by name
	// or exact path_pattern.
	for _, l := range c.Listeners {
		for _, ref := range l.Routes {
			if !routeRefExists(c.Routes, ref) {
				lname := l.Name
				if lname == "" {
					lname = ListenerBindAddress(l)
				}
				return fmt.Errorf("listener %q references unknown route %q", lname, ref)
			}
		}
	}

	// Invariant 4: guard.enabled implies non-empty token set.
	if c.Guard.Enabled && len(c.Guard.Tokens) == 0 {
		return fmt.Errorf("master access token guard is enabled but no tokens are configured")
	}

	// Invariant 5: all listener host:port tuples are distinct.
	seen := make(map[string]struct{}, len(c.Listeners))
	for _, l := range c.Listeners {
		addr := ListenerBindAddress(l)
		if _, ok := seen[addr]; ok {
			return fmt.Errorf("duplicate listener address %q", addr)
		}
		seen[addr] = struct{}{}
	}

	return nil
}

func routeRefExists(routes []Route, ref string) bool {
	for _, r := range routes {
		if r.Name != "" && r.Name == ref {
			return true
		}
		if r.PathPattern == ref {
			return true
		}
	}
	return false
}
