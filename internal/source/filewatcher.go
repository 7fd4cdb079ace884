package source

import (
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// FileWatcherConfig configures a FileWatcher plugin instance.
type FileWatcherConfig struct {
	Name          string
	Paths         []string
	FilenameGlob  string // optional; empty matches every file
	Recursive     bool
	Logger        *logging.Logger
}

// FileWatcher emits FileCreated/Modified/Deleted/Renamed events for a set
// of watched paths using fsnotify, the ecosystem's standard OS
// file-change-notification binding.
type FileWatcher struct {
	runState
	cfg FileWatcherConfig

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileWatcher validates the configured glob and builds the plugin. An
// invalid glob is a CategoryConfiguration error.
func NewFileWatcher(cfg FileWatcherConfig) (*FileWatcher, error) {
	if cfg.FilenameGlob != "" {
		if _, err := filepath.Match(cfg.FilenameGlob, "probe.txt"); err != nil {
			return nil, apperrors.Configuration("file_watcher %s: invalid glob %q: %v", cfg.Name, cfg.FilenameGlob, err)
		}
	}
	return &FileWatcher{cfg: cfg}, nil
}

func (w *FileWatcher) Name() string { return w.cfg.Name }

func (w *FileWatcher) Start(emitter Emitter) error {
	if !w.beginStart() {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return apperrors.Wrap(apperrors.CategoryInitialization, "file_watcher: create watcher", err)
	}

	for _, p := range w.cfg.Paths {
		if err := addRecursive(watcher, p, w.cfg.Recursive); err != nil {
			w.cfg.Logger.With(nil).Warnf("file_watcher %s: skipping missing path %s: %v", w.cfg.Name, p, err)
		}
	}

	w.mu.Lock()
	w.watcher = watcher
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.loop(watcher, emitter, done)
	return nil
}

func (w *FileWatcher) loop(watcher *fsnotify.Watcher, emitter Emitter, done chan struct{}) {
	defer close(done)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !w.running.Load() {
				continue
			}
			if out := w.translate(evt); out != nil {
				emitter.Emit(out)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.cfg.Logger.WithError(err).Warn("file_watcher: watcher error")
		}
	}
}

func (w *FileWatcher) translate(evt fsnotify.Event) *event.Event {
	filename := filepath.Base(evt.Name)
	if w.cfg.FilenameGlob != "" {
		matched, err := filepath.Match(w.cfg.FilenameGlob, filename)
		if err != nil || !matched {
			return nil
		}
	}

	var kind event.Kind
	switch {
	case evt.Op&fsnotify.Create != 0:
		kind = event.KindFileCreated
	case evt.Op&fsnotify.Write != 0:
		kind = event.KindFileModified
	case evt.Op&fsnotify.Remove != 0:
		kind = event.KindFileDeleted
	case evt.Op&fsnotify.Rename != 0:
		kind = event.KindFileRenamed
	default:
		return nil
	}

	out := event.New(kind, w.cfg.Name).WithMetadata("watcher_path", evt.Name)
	out.File = &event.FileData{Path: evt.Name, Filename: filename}
	return out
}

func (w *FileWatcher) Stop() error {
	w.beginStop(func() {
		w.mu.Lock()
		watcher := w.watcher
		done := w.done
		w.mu.Unlock()
		if watcher != nil {
			_ = watcher.Close()
		}
		if done != nil {
			<-done
		}
	})
	return nil
}

func addRecursive(watcher *fsnotify.Watcher, root string, recursive bool) error {
	if err := watcher.Add(root); err != nil {
		return err
	}
	if !recursive {
		return nil
	}
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && p != root {
			_ = watcher.Add(p)
		}
		return nil
	})
}
