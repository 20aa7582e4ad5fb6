package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wudi/keygate/internal/logging"
)

// Watcher observes the parent directory of a configuration file and fires
// Reload only after a fresh load+validate succeeds, debounced across the
// burst of filesystem events a single save typically produces.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	onReload  func(*Config)
	lastGood  *Config
}

// NewWatcher creates a Watcher for the configuration file at path. The
// initial configuration must be loaded separately; NewWatcher only sets
// up the filesystem hook.
func NewWatcher(path string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	w := &Watcher{path: path, fsw: fsw, debounce: debounce}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// OnReload registers the callback invoked with the freshly validated
// Config after each successful reload. Only one callback is supported.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Start runs the watch loop until Stop is called. It blocks, so callers
// typically run it in its own goroutine.
func (w *Watcher) Start() {
	base := filepath.Base(w.path)
	for event := range w.fsw.Events {
		if filepath.Base(event.Name) != base {
			continue
		}
		if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			continue
		}
		w.scheduleReload()
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

// reload attempts to load and validate the configuration file. On failure
// the previous configuration keeps serving and a warning is logged; a
// later event will try again. Dropped signals under channel pressure are
// acceptable for the same reason.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		logging.Warn("config reload failed, continuing to serve previous configuration",
			zap.String("path", w.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.lastGood = cfg
	cb := w.onReload
	w.mu.Unlock()

	if cb != nil {
		cb(cfg)
	}
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
