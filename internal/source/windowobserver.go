package source

import (
	"fmt"
	"regexp"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// WindowObserverConfig configures a WindowObserver plugin instance.
type WindowObserverConfig struct {
	Name string
	// TitleFilter and ProcessFilter are independent regexes; a nil filter
	// matches everything. Both are checked against the window observed at
	// the time of the event, not at plugin construction.
	TitleFilter   *regexp.Regexp
	ProcessFilter *regexp.Regexp
	Logger        *logging.Logger
}

// NewWindowObserver validates the configured filters and builds the
// platform-specific observer. On non-Windows builds Start always fails
// with a CategoryConfiguration error, since the underlying hooks are
// Win32-only.
func NewWindowObserver(cfg WindowObserverConfig) (*WindowObserver, error) {
	return newWindowObserver(cfg)
}

// windowInfo is the minimal snapshot the platform layer hands to the
// shared translation logic.
type windowInfo struct {
	Handle      uintptr
	Title       string
	ProcessID   uint32
	ProcessName string // "PID:<n>" fallback when the real name can't be resolved
}

func (o *WindowObserver) matches(info windowInfo) bool {
	if o.cfg.TitleFilter != nil && !o.cfg.TitleFilter.MatchString(info.Title) {
		return false
	}
	if o.cfg.ProcessFilter != nil && !o.cfg.ProcessFilter.MatchString(info.ProcessName) {
		return false
	}
	return true
}

func (o *WindowObserver) translate(kind event.Kind, info windowInfo) *event.Event {
	if !o.matches(info) {
		return nil
	}
	evt := event.New(kind, o.cfg.Name).
		WithMetadata("window_title", info.Title).
		WithMetadata("process_name", info.ProcessName)
	evt.Window = &event.WindowData{Handle: info.Handle, Title: info.Title, ProcessID: info.ProcessID}
	return evt
}

func configurationErrorf(format string, args ...any) error {
	return apperrors.Configuration(format, args...)
}

// processNameFallback resolves pid to its executable name, falling back to
// "PID:<n>" when the process has already exited or the name can't be read,
// matching the fallback the original window-watcher prototype used
// unconditionally.
func processNameFallback(pid uint32) string {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Sprintf("PID:%d", pid)
	}
	name, err := p.Name()
	if err != nil || name == "" {
		return fmt.Sprintf("PID:%d", pid)
	}
	return name
}
