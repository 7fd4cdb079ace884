package engine

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stylebending/win-event-engine/internal/config"
	"github.com/stylebending/win-event-engine/internal/logging"
	"github.com/stylebending/win-event-engine/internal/metrics"
)

// reloadDebounce is the quiet period the hot-reload watcher waits for
// after the last relevant filesystem event before it reloads.
const reloadDebounce = 500 * time.Millisecond

// Controller owns the currently active Supervisor epoch and the
// fsnotify watch that triggers a rebuild when the config file changes. A
// reload replaces the Supervisor wholesale; it never mutates one in
// place, per the engine's epoch model.
type Controller struct {
	configPath string
	logger     *logging.Logger
	collector  *metrics.Collector

	watcher *fsnotify.Watcher

	mu       sync.Mutex
	current  *Supervisor
	closing  atomic.Bool
	watchDone chan struct{}
}

// NewController loads the config at path, brings up the first Supervisor
// epoch, and (unless watch is false) starts the debounced reload watch on
// path's containing directory.
func NewController(path string, watch bool, logger *logging.Logger, collector *metrics.Collector) (*Controller, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	sup, err := New(cfg, logger, collector)
	if err != nil {
		return nil, err
	}

	c := &Controller{configPath: path, logger: logger, collector: collector, current: sup}

	if watch {
		if err := c.startWatch(); err != nil {
			logger.WithError(err).Warn("hot_reload: failed to start config watch; continuing without it")
		}
	}

	return c, nil
}

func (c *Controller) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.configPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	c.watcher = w
	c.watchDone = make(chan struct{})
	go c.watchLoop()
	return nil
}

func (c *Controller) watchLoop() {
	defer close(c.watchDone)

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case evt, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if c.closing.Load() || !relevantReloadEvent(evt, c.configPath) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if !c.closing.Load() {
				c.reload()
			}

		case _, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// relevantReloadEvent reports whether evt is a Create or Write on a .toml
// file matching the watched config path's basename (the watch is set on
// the containing directory so editors that save-via-rename are observed).
func relevantReloadEvent(evt fsnotify.Event, configPath string) bool {
	if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	if strings.ToLower(filepath.Ext(evt.Name)) != ".toml" {
		return false
	}
	return filepath.Base(evt.Name) == filepath.Base(configPath)
}

// reload loads and validates the new config (keeping the current epoch if
// it is invalid), shuts down the current epoch, builds a new Supervisor from
// the new config and installs it as current. The file watch itself stays in
// place across reloads. Between stopping the old epoch and the new one coming
// up, any straggling events on the old bus are discarded; this controller
// never attempts to bridge epochs.
func (c *Controller) reload() {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		c.logger.WithError(err).Warn("hot_reload: new config invalid, keeping current config")
		return
	}

	c.mu.Lock()
	old := c.current
	c.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := old.Shutdown(shutdownCtx); err != nil {
		c.logger.WithError(err).Warn("hot_reload: previous epoch did not shut down cleanly")
	}

	fresh, err := New(cfg, c.logger, c.collector)
	if err != nil {
		c.logger.WithError(err).Error("hot_reload: failed to rebuild engine after config change; engine is now idle")
		return
	}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()

	c.logger.With(nil).Info("hot_reload: config reloaded")
}

// Status delegates to the currently active epoch.
func (c *Controller) Status() Status {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	return cur.Status()
}

// Shutdown stops the config watch (if running) and the currently active
// epoch.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.closing.Store(true)
	if c.watcher != nil {
		c.watcher.Close()
		<-c.watchDone
	}
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	return cur.Shutdown(ctx)
}
