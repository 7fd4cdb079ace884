package source

import (
	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
	"github.com/stylebending/win-event-engine/internal/logging"
)

// RegistryRoot identifies a registry hive a watch target lives under.
type RegistryRoot string

const (
	RegistryRootLocalMachine  RegistryRoot = "HKLM"
	RegistryRootCurrentUser   RegistryRoot = "HKCU"
	RegistryRootUsers         RegistryRoot = "HKU"
	RegistryRootCurrentConfig RegistryRoot = "HKCC"
)

// Valid reports whether r is one of the four supported hives.
func (r RegistryRoot) Valid() bool {
	switch r {
	case RegistryRootLocalMachine, RegistryRootCurrentUser, RegistryRootUsers, RegistryRootCurrentConfig:
		return true
	default:
		return false
	}
}

// RegistryKeyTarget names a single key to watch.
type RegistryKeyTarget struct {
	Root      RegistryRoot
	Path      string
	WatchTree bool
}

// RegistryWatcherConfig configures a RegistryWatcher plugin instance.
type RegistryWatcherConfig struct {
	Name   string
	Keys   []RegistryKeyTarget
	Logger *logging.Logger
}

// NewRegistryWatcher validates the watch list and builds the
// platform-specific watcher. An empty key list or an unrecognized hive is
// a CategoryConfiguration error.
func NewRegistryWatcher(cfg RegistryWatcherConfig) (*RegistryWatcher, error) {
	if len(cfg.Keys) == 0 {
		return nil, apperrors.Configuration("registry_watcher %s: no keys specified to watch", cfg.Name)
	}
	for _, k := range cfg.Keys {
		if !k.Root.Valid() {
			return nil, apperrors.Configuration("registry_watcher %s: unrecognized root %q", cfg.Name, k.Root)
		}
		if k.Path == "" {
			return nil, apperrors.Configuration("registry_watcher %s: empty key path under %s", cfg.Name, k.Root)
		}
	}
	return newRegistryWatcher(cfg)
}

func registryEvent(name string, target RegistryKeyTarget, changeKind event.RegistryChangeKind, pid uint32, processName string) *event.Event {
	evt := event.New(event.KindRegistryChanged, name).
		WithMetadata("registry_root", string(target.Root)).
		WithMetadata("registry_key", target.Path)
	evt.Registry = &event.RegistryData{
		Root:        string(target.Root),
		Key:         target.Path,
		ChangeKind:  changeKind,
		PID:         pid,
		ProcessName: processName,
	}
	return evt
}
