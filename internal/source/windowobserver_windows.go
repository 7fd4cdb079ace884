//go:build windows

package source

import (
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/stylebending/win-event-engine/internal/event"
)

var (
	user32                    = syscall.NewLazyDLL("user32.dll")
	procSetWinEventHook       = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent        = user32.NewProc("UnhookWinEvent")
	procGetWindowTextW        = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcID = user32.NewProc("GetWindowThreadProcessId")
	procGetMessageW           = user32.NewProc("GetMessageW")
	procTranslateMessage      = user32.NewProc("TranslateMessage")
	procDispatchMessageW      = user32.NewProc("DispatchMessageW")
	procPostThreadMessageW    = user32.NewProc("PostThreadMessageW")
)

const (
	winEventOutOfContext    = 0x0000
	eventSystemForeground   = 0x0003
	eventObjectCreate       = 0x8000
	eventObjectDestroy      = 0x8001
	wmQuit                  = 0x0012
	maxWindowTitleRunes     = 512
)

// WindowObserver hooks EVENT_SYSTEM_FOREGROUND, EVENT_OBJECT_CREATE and
// EVENT_OBJECT_DESTROY via SetWinEventHook, running the required message
// pump on a single dedicated OS thread. A single-slot "previously focused"
// field lets the observer emit WindowUnfocused for the window that lost
// focus, not just WindowFocused for the one that gained it.
type WindowObserver struct {
	runState
	cfg WindowObserverConfig

	bridge    *BridgeChannel
	pumpTID   uint32
	hooks     []uintptr
	pumpDone  chan struct{}

	mu            sync.Mutex
	lastFocused   *windowInfo
}

func newWindowObserver(cfg WindowObserverConfig) (*WindowObserver, error) {
	return &WindowObserver{cfg: cfg}, nil
}

func (o *WindowObserver) Name() string { return o.cfg.Name }

func (o *WindowObserver) Start(emitter Emitter) error {
	if !o.beginStart() {
		return nil
	}

	o.bridge = NewBridgeChannel(256)
	o.pumpDone = make(chan struct{})
	started := make(chan error, 1)

	go o.pump(started)
	if err := <-started; err != nil {
		o.running.Store(false)
		return err
	}

	go o.bridge.Forward(emitter, func(evt *event.Event) {
		o.cfg.Logger.Warn("window_observer: bus full, dropping event")
	})

	return nil
}

// pump runs on its own locked OS thread: it installs the three WinEvent
// hooks and then blocks in GetMessageW, since SetWinEventHook delivers
// callbacks only while its owning thread pumps messages.
func (o *WindowObserver) pump(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(o.pumpDone)

	o.pumpTID = windows.GetCurrentThreadId()

	cb := syscall.NewCallback(o.winEventCallback)
	for _, eventID := range []uintptr{eventSystemForeground, eventObjectCreate, eventObjectDestroy} {
		hook, _, _ := procSetWinEventHook.Call(
			eventID, eventID,
			0, cb, 0, 0,
			winEventOutOfContext,
		)
		if hook == 0 {
			started <- configurationErrorf("window_observer %s: SetWinEventHook failed for event 0x%x", o.cfg.Name, eventID)
			return
		}
		o.hooks = append(o.hooks, hook)
	}
	started <- nil

	var msg struct {
		hwnd    uintptr
		message uint32
		wParam  uintptr
		lParam  uintptr
		time    uint32
		pt      struct{ x, y int32 }
	}
	for {
		ret, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(ret) <= 0 {
			return
		}
		if msg.message == wmQuit {
			return
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&msg)))
	}
}

// winEventCallback is invoked on the pump thread by the OS for every
// subscribed WinEvent. It reads the window's title and owning process,
// translates the notification into events and pushes them onto the bridge,
// whose forwarder delivers them to the emitter.
func (o *WindowObserver) winEventCallback(hWinEventHook, eventID, hwnd, idObject, idChild, idEventThread, dwmsEventTime uintptr) uintptr {
	if hwnd == 0 {
		return 0
	}
	info := readWindowInfo(hwnd)

	var kind event.Kind
	switch eventID {
	case eventSystemForeground:
		kind = event.KindWindowFocused
		o.mu.Lock()
		prev := o.lastFocused
		o.lastFocused = &info
		o.mu.Unlock()
		if prev != nil && prev.Handle != info.Handle {
			if unfocused := o.translate(event.KindWindowUnfocused, *prev); unfocused != nil {
				o.bridge.Push(unfocused)
			}
		}
	case eventObjectCreate:
		kind = event.KindWindowCreated
	case eventObjectDestroy:
		kind = event.KindWindowDestroyed
	default:
		return 0
	}

	if evt := o.translate(kind, info); evt != nil {
		o.bridge.Push(evt)
	}
	return 0
}

func readWindowInfo(hwnd uintptr) windowInfo {
	buf := make([]uint16, maxWindowTitleRunes)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	title := syscall.UTF16ToString(buf[:n])

	var pid uint32
	procGetWindowThreadProcID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))

	return windowInfo{
		Handle:      hwnd,
		Title:       title,
		ProcessID:   pid,
		ProcessName: processNameFallback(pid),
	}
}

func (o *WindowObserver) Stop() error {
	o.beginStop(func() {
		for _, hook := range o.hooks {
			procUnhookWinEvent.Call(hook)
		}
		if o.pumpTID != 0 {
			procPostThreadMessageW.Call(uintptr(o.pumpTID), wmQuit, 0, 0)
		}
		if o.pumpDone != nil {
			<-o.pumpDone
		}
		if o.bridge != nil {
			o.bridge.Close()
		}
	})
	return nil
}
