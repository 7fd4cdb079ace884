//go:build !windows

package source

// KernelTraceMonitor is a non-functional stand-in on non-Windows builds:
// ETW kernel trace sessions are Win32-only.
type KernelTraceMonitor struct {
	runState
	cfg KernelTraceConfig
}

func newKernelTraceMonitor(cfg KernelTraceConfig) (*KernelTraceMonitor, error) {
	return &KernelTraceMonitor{cfg: cfg}, nil
}

func (k *KernelTraceMonitor) Name() string { return k.cfg.Name }

func (k *KernelTraceMonitor) Start(emitter Emitter) error {
	return configurationErrorf("kernel_trace %s: kernel trace sessions are only supported on windows", k.cfg.Name)
}

func (k *KernelTraceMonitor) Stop() error {
	return nil
}
