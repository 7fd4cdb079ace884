//go:build !windows

package source

// WindowObserver is a non-functional stand-in on non-Windows builds: the
// underlying hooks (SetWinEventHook, GetWindowTextW) are Win32-only.
type WindowObserver struct {
	runState
	cfg WindowObserverConfig
}

func newWindowObserver(cfg WindowObserverConfig) (*WindowObserver, error) {
	return &WindowObserver{cfg: cfg}, nil
}

func (o *WindowObserver) Name() string { return o.cfg.Name }

func (o *WindowObserver) Start(emitter Emitter) error {
	return configurationErrorf("window_observer %s: window hooks are only supported on windows", o.cfg.Name)
}

func (o *WindowObserver) Stop() error {
	return nil
}
