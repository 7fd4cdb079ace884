package source

import (
	"sync"

	"github.com/stylebending/win-event-engine/internal/event"
)

// fakeEmitter collects emitted events for assertions; it never reports the
// bus as full.
type fakeEmitter struct {
	mu     sync.Mutex
	events []*event.Event
}

func (f *fakeEmitter) Emit(evt *event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return true
}

func (f *fakeEmitter) snapshot() []*event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*event.Event, len(f.events))
	copy(out, f.events)
	return out
}
