// Package listener binds and serves one HTTP listener per configured
// address, and coordinates starting/stopping the whole set.
package listener

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/keygate/internal/logging"
)

// Listener is one bound network endpoint the gateway serves traffic on.
type Listener interface {
	ID() string
	Protocol() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Addr() string
}

// Manager owns a set of Listeners and starts/stops them together. Start
// is run through an errgroup so the first listener failure cancels the
// shared context and unblocks every other listener's Serve loop.
type Manager struct {
	mu        sync.RWMutex
	listeners map[string]Listener
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{listeners: make(map[string]Listener)}
}

// Add registers a listener. Returns an error if its ID is already in use.
func (m *Manager) Add(l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.listeners[l.ID()]; exists {
		return fmt.Errorf("listener with id %s already exists", l.ID())
	}
	m.listeners[l.ID()] = l
	return nil
}

// Get returns a listener by ID.
func (m *Manager) Get(id string) (Listener, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[id]
	return l, ok
}

// Count returns the number of registered listeners.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// List returns all registered listener IDs.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	return ids
}

// StartAll runs every listener's Start concurrently under one errgroup
// bound to ctx. It blocks until ctx is canceled (normal shutdown) or any
// one listener's Start returns an error, in which case the group context
// cancels the rest and StartAll returns that first error.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error {
			logging.Info("starting listener", logging.ListenerFields(l.ID(), l.Protocol(), l.Addr())...)
			if err := l.Start(gctx); err != nil {
				return fmt.Errorf("listener %s: %w", l.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll gracefully shuts down every listener concurrently, waiting for
// all to finish and joining any errors.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			logging.Info("stopping listener", zap.String("id", l.ID()))
			if err := l.Stop(ctx); err != nil {
				errCh <- fmt.Errorf("listener %s: %w", l.ID(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors stopping listeners: %v", errs)
	}
	return nil
}
