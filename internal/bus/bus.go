// Package bus implements the bounded multi-producer single-consumer channel
// that sits between source plugins and the engine dispatch loop.
package bus

import (
	"context"

	"github.com/stylebending/win-event-engine/internal/event"
)

// DefaultCapacity is the default event buffer size when config omits it.
const DefaultCapacity = 1000

// Bus is a bounded MPSC channel. Producers call TrySend, which never
// blocks: on a full buffer it reports a drop instead of stalling the
// OS-callback thread that produced the event. There is exactly one
// consumer, the dispatch loop, which reads via Receive/C.
type Bus struct {
	ch chan *event.Event
}

// New creates a Bus with the given capacity. A non-positive capacity falls
// back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{ch: make(chan *event.Event, capacity)}
}

// TrySend attempts to enqueue evt without blocking. It returns true if the
// event was accepted, false if the buffer was full and the event was
// dropped. Callers on the dropped path are expected to increment the
// events_dropped_total counter.
func (b *Bus) TrySend(evt *event.Event) bool {
	select {
	case b.ch <- evt:
		return true
	default:
		return false
	}
}

// Receive blocks until an event is available, the context is cancelled, or
// the bus is closed. The second return value is false when the context is
// cancelled or when the bus channel has been drained and closed.
func (b *Bus) Receive(ctx context.Context) (*event.Event, bool) {
	select {
	case evt, ok := <-b.ch:
		return evt, ok
	case <-ctx.Done():
		return nil, false
	}
}

// C exposes the receive-only channel directly for callers that want to
// select across the bus alongside other channels.
func (b *Bus) C() <-chan *event.Event {
	return b.ch
}

// Close closes the underlying channel. It must be called at most once, by
// the owner (the engine supervisor), after all producers have stopped.
func (b *Bus) Close() {
	close(b.ch)
}

// Len reports the number of events currently buffered, useful for status
// and metrics reporting.
func (b *Bus) Len() int {
	return len(b.ch)
}

// Cap reports the configured buffer capacity.
func (b *Bus) Cap() int {
	return cap(b.ch)
}
