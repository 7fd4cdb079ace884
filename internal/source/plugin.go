// Package source defines the uniform Source Plugin contract and the
// thread-to-runtime bridge pattern shared by every plugin that depends on
// an OS callback thread (window hooks, kernel trace, registry
// notifications).
package source

import (
	"sync"
	"sync/atomic"

	"github.com/stylebending/win-event-engine/internal/event"
)

// Emitter is the handle source plugins use to push events onto the bus.
// It is cloneable and survives plugin restart; a plugin must not assume it
// is handed the same Emitter instance across a hot reload.
type Emitter interface {
	// Emit attempts a non-blocking send. It returns false if the bus was
	// full and the event was dropped.
	Emit(evt *event.Event) bool
}

// Plugin is the uniform interface every event source implements.
type Plugin interface {
	// Name returns the plugin's stable identity, used in metrics labels
	// and as the Source of the events it emits.
	Name() string

	// Start begins producing events into emitter. It is idempotent: a
	// second Start call while already running returns nil.
	Start(emitter Emitter) error

	// Stop halts production. It is safe to call even when the plugin was
	// never started.
	Stop() error

	// IsRunning reports whether the plugin is currently active.
	IsRunning() bool
}

// runState is the shared idempotency/cancellation bookkeeping embedded by
// every plugin implementation so Start/Stop/IsRunning behave uniformly.
type runState struct {
	mu      sync.Mutex
	running atomic.Bool
	cancel  func()
}

func (r *runState) IsRunning() bool {
	return r.running.Load()
}

// beginStart reports whether the caller should proceed with startup work.
// It returns false when the plugin is already running (Start is then a
// no-op that returns nil to the caller).
func (r *runState) beginStart() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running.Load() {
		return false
	}
	r.running.Store(true)
	return true
}

// beginStop clears the running flag (so any loop polling IsRunning
// observes the cancellation immediately) and then runs fn, the actual
// teardown, only if the plugin was running. It is a no-op, safe to call
// even when the plugin was never started.
func (r *runState) beginStop(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running.Swap(false) {
		return
	}
	if fn != nil {
		fn()
	}
}

// BridgeChannel is the synchronous channel a dedicated OS-callback thread
// writes raw events into; a forwarding goroutine reads from it and calls
// Emitter.Emit with try-send semantics, so a stalled consumer never blocks
// the OS thread.
type BridgeChannel struct {
	ch chan *event.Event
}

// NewBridgeChannel creates a BridgeChannel with the given buffer size.
func NewBridgeChannel(capacity int) *BridgeChannel {
	if capacity <= 0 {
		capacity = 64
	}
	return &BridgeChannel{ch: make(chan *event.Event, capacity)}
}

// Push is called from the OS-callback thread. It never blocks: a full
// bridge buffer drops the event, since the OS thread must not stall.
func (b *BridgeChannel) Push(evt *event.Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Close closes the channel; the forwarding goroutine observes this and
// exits.
func (b *BridgeChannel) Close() {
	close(b.ch)
}

// Forward runs the forwarding goroutine: it reads from the bridge channel
// and writes into emitter until the channel closes. Call it in its own
// goroutine from Start.
func (b *BridgeChannel) Forward(emitter Emitter, onDrop func(*event.Event)) {
	for evt := range b.ch {
		if !emitter.Emit(evt) && onDrop != nil {
			onDrop(evt)
		}
	}
}
