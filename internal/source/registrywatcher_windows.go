//go:build windows

package source

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows/registry"

	"github.com/stylebending/win-event-engine/internal/apperrors"
	"github.com/stylebending/win-event-engine/internal/event"
)

var (
	advapi32                      = syscall.NewLazyDLL("advapi32.dll")
	procRegNotifyChangeKeyValue   = advapi32.NewProc("RegNotifyChangeKeyValue")
	kernel32                      = syscall.NewLazyDLL("kernel32.dll")
	procCreateEventW              = kernel32.NewProc("CreateEventW")
	procSetEvent                  = kernel32.NewProc("SetEvent")
	procWaitForMultipleObjects    = kernel32.NewProc("WaitForMultipleObjects")
)

const (
	regNotifyChangeName       = 0x00000001
	regNotifyChangeLastSet    = 0x00000004
	waitObject0               = 0x00000000
	infiniteWait              = 0xFFFFFFFF
)

func hiveOf(root RegistryRoot) registry.Key {
	switch root {
	case RegistryRootLocalMachine:
		return registry.LOCAL_MACHINE
	case RegistryRootCurrentUser:
		return registry.CURRENT_USER
	case RegistryRootUsers:
		return registry.USERS
	case RegistryRootCurrentConfig:
		return registry.CURRENT_CONFIG
	default:
		return 0
	}
}

// RegistryWatcher implements one RegNotifyChangeKeyValue-backed event per
// watched key, waited on concurrently against a shared stop event via
// WaitForMultipleObjects, with the notification re-armed after every
// observed change.
type RegistryWatcher struct {
	runState
	cfg RegistryWatcherConfig

	mu       sync.Mutex
	stopEvt  syscall.Handle
	wg       sync.WaitGroup
}

func newRegistryWatcher(cfg RegistryWatcherConfig) (*RegistryWatcher, error) {
	return &RegistryWatcher{cfg: cfg}, nil
}

func (w *RegistryWatcher) Name() string { return w.cfg.Name }

func (w *RegistryWatcher) Start(emitter Emitter) error {
	if !w.beginStart() {
		return nil
	}

	stopEvt, _, _ := procCreateEventW.Call(0, 1, 0, 0)
	if stopEvt == 0 {
		w.running.Store(false)
		return apperrors.Wrap(apperrors.CategoryInitialization, "registry_watcher: CreateEventW for stop signal", syscall.GetLastError())
	}
	w.stopEvt = syscall.Handle(stopEvt)

	for _, target := range w.cfg.Keys {
		target := target
		key, err := registry.OpenKey(hiveOf(target.Root), target.Path, registry.NOTIFY|registry.READ)
		if err != nil {
			w.cfg.Logger.WithError(err).Warnf("registry_watcher %s: open %s\\%s failed", w.cfg.Name, target.Root, target.Path)
			continue
		}
		w.wg.Add(1)
		go w.watchKey(key, target, emitter)
	}

	return nil
}

func (w *RegistryWatcher) watchKey(key registry.Key, target RegistryKeyTarget, emitter Emitter) {
	defer w.wg.Done()
	defer key.Close()

	for {
		changeEvt, _, _ := procCreateEventW.Call(0, 0, 0, 0)
		if changeEvt == 0 {
			w.cfg.Logger.Warnf("registry_watcher %s: CreateEventW failed for %s\\%s", w.cfg.Name, target.Root, target.Path)
			return
		}

		watchTree := uintptr(0)
		if target.WatchTree {
			watchTree = 1
		}
		filter := uintptr(regNotifyChangeName | regNotifyChangeLastSet)
		ret, _, _ := procRegNotifyChangeKeyValue.Call(uintptr(key), watchTree, filter, changeEvt, 1)
		if ret != 0 {
			syscall.CloseHandle(syscall.Handle(changeEvt))
			w.cfg.Logger.Warnf("registry_watcher %s: RegNotifyChangeKeyValue failed for %s\\%s", w.cfg.Name, target.Root, target.Path)
			return
		}

		handles := []syscall.Handle{syscall.Handle(changeEvt), w.stopEvt}
		idx, _, _ := procWaitForMultipleObjects.Call(
			uintptr(len(handles)), uintptr(unsafe.Pointer(&handles[0])), 0, infiniteWait,
		)
		syscall.CloseHandle(syscall.Handle(changeEvt))

		if idx != waitObject0 {
			return
		}

		evt := registryEvent(w.cfg.Name, target, event.RegistryChangeModified, 0, "")
		emitter.Emit(evt)
	}
}

func (w *RegistryWatcher) Stop() error {
	w.beginStop(func() {
		w.mu.Lock()
		stopEvt := w.stopEvt
		w.mu.Unlock()
		if stopEvt != 0 {
			procSetEvent.Call(uintptr(stopEvt))
		}
		w.wg.Wait()
		if stopEvt != 0 {
			syscall.CloseHandle(stopEvt)
		}
	})
	return nil
}
