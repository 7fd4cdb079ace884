package metrics

import "sync"

// UpdateType tags a broadcast MetricUpdate with the wire "type" value used
// by the WebSocket frame encoding.
type UpdateType string

const (
	UpdateEventReceived  UpdateType = "event_received"
	UpdateRuleEvaluated  UpdateType = "rule_evaluated"
	UpdateRuleMatched    UpdateType = "rule_matched"
	UpdateActionExecuted UpdateType = "action_executed"
	UpdateSnapshot       UpdateType = "snapshot"
	UpdateHealth         UpdateType = "health"
)

// Update is a single broadcast message published to every subscriber.
type Update struct {
	Type UpdateType
	Data any
}

// Broadcaster is a fan-out channel bus. Slow subscribers lose their oldest
// buffered messages rather than stalling producers.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Update
	nextID      int
	capacity    int
}

// NewBroadcaster creates a Broadcaster whose subscriber channels each hold
// up to capacity buffered messages.
func NewBroadcaster(capacity int) *Broadcaster {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Broadcaster{
		subscribers: make(map[int]chan Update),
		capacity:    capacity,
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function that must be called when the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Update, b.capacity)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish fans an update out to every subscriber. A subscriber whose
// buffer is full has its oldest message dropped to make room, rather than
// blocking this call.
func (b *Broadcaster) Publish(update Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
