//go:build !windows

package source

// RegistryWatcher is a non-functional stand-in on non-Windows builds: the
// registry and its notification APIs are Win32-only.
type RegistryWatcher struct {
	runState
	cfg RegistryWatcherConfig
}

func newRegistryWatcher(cfg RegistryWatcherConfig) (*RegistryWatcher, error) {
	return &RegistryWatcher{cfg: cfg}, nil
}

func (w *RegistryWatcher) Name() string { return w.cfg.Name }

func (w *RegistryWatcher) Start(emitter Emitter) error {
	return configurationErrorf("registry_watcher %s: registry watching is only supported on windows", w.cfg.Name)
}

func (w *RegistryWatcher) Stop() error {
	return nil
}
