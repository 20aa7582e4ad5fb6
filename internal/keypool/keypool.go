// Package keypool selects an upstream credential from a named pool of
// API keys under one of three interchangeable strategies.
package keypool

import (
	"math/rand"
	"sync/atomic"

	"github.com/wudi/keygate/internal/config"
)

// Pick is the value and optional display label of a selected key.
type Pick struct {
	Value string
	Label string
}

// Selector is built once from a KeyPool by retaining only enabled
// entries and precomputing the total weight. It has no mutable state
// other than the round-robin counter, so it is safe under concurrent
// Pick() calls from every route that shares this pool by name.
type Selector struct {
	name           string
	strategy       config.Strategy
	headerName     string
	queryParamName string
	keys           []config.KeyEntry
	totalWeight    uint64
	counter        uint64
}

// New builds a Selector from a KeyPool, retaining only enabled keys.
func New(pool config.KeyPool) *Selector {
	s := &Selector{
		name:           pool.Name,
		strategy:       pool.Strategy,
		headerName:     pool.HeaderName,
		queryParamName: pool.QueryParamName,
	}
	for _, k := range pool.Keys {
		if !k.Enabled {
			continue
		}
		s.keys = append(s.keys, k)
		s.totalWeight += uint64(k.Weight)
	}
	return s
}

// HeaderName is the header the selected key is injected under, when
// QueryParamName is empty.
func (s *Selector) HeaderName() string { return s.headerName }

// QueryParamName is the query parameter the selected key is injected
// under. Empty means header injection applies instead.
func (s *Selector) QueryParamName() string { return s.queryParamName }

// Len reports the number of enabled keys in the pool.
func (s *Selector) Len() int { return len(s.keys) }

// Pick selects the next key according to the configured strategy.
// Returns (Pick{}, false) when the pool has no enabled keys.
func (s *Selector) Pick() (Pick, bool) {
	if len(s.keys) == 0 {
		return Pick{}, false
	}
	switch s.strategy {
	case config.StrategyRandom:
		return s.pickRandom(), true
	case config.StrategyWeight:
		return s.pickWeighted(), true
	default:
		return s.pickRoundRobin(), true
	}
}

// pickRoundRobin fetches and increments a shared atomic counter; the
// index is counter mod N. The increment is atomic so concurrent callers
// observe a strictly increasing, linearized sequence of slots.
func (s *Selector) pickRoundRobin() Pick {
	n := atomic.AddUint64(&s.counter, 1) - 1
	idx := n % uint64(len(s.keys))
	return toPick(s.keys[idx])
}

func (s *Selector) pickRandom() Pick {
	idx := rand.Intn(len(s.keys))
	return toPick(s.keys[idx])
}

// pickWeighted draws r uniform over [0, total_weight) and walks the keys
// in declaration order accumulating weight, returning the first entry
// whose cumulative weight strictly exceeds r. Degrades to random when
// the pool's total weight is zero. The final fallback to the last key
// covers the zero-probability tail from floating point / integer
// rounding at the boundary.
func (s *Selector) pickWeighted() Pick {
	if s.totalWeight == 0 {
		return s.pickRandom()
	}
	r := uint64(rand.Int63n(int64(s.totalWeight)))
	var cumulative uint64
	for _, k := range s.keys {
		cumulative += uint64(k.Weight)
		if r < cumulative {
			return toPick(k)
		}
	}
	return toPick(s.keys[len(s.keys)-1])
}

func toPick(k config.KeyEntry) Pick {
	return Pick{Value: k.Value, Label: k.Label}
}

// Registry holds one Selector per configured pool, built once per config
// load cycle and shared by every route that references the pool by name.
type Registry struct {
	selectors map[string]*Selector
}

// NewRegistry builds a Selector for every pool in cfg.
func NewRegistry(pools map[string]config.KeyPool) *Registry {
	r := &Registry{selectors: make(map[string]*Selector, len(pools))}
	for name, p := range pools {
		r.selectors[name] = New(p)
	}
	return r
}

// Get returns the selector for a pool name, or nil if no such pool exists.
func (r *Registry) Get(name string) *Selector {
	if name == "" {
		return nil
	}
	return r.selectors[name]
}
