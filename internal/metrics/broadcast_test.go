package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedUpdate(t *testing.T) {
	b := NewBroadcaster(4)
	updates, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Update{Type: UpdateHealth, Data: HealthPayload{Status: "healthy"}})

	select {
	case u := <-updates:
		assert.Equal(t, UpdateHealth, u.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}
}

func TestPublishDropsOldestOnSlowSubscriber(t *testing.T) {
	b := NewBroadcaster(1)
	updates, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Update{Type: UpdateHealth, Data: "first"})
	b.Publish(Update{Type: UpdateHealth, Data: "second"})

	u := <-updates
	assert.Equal(t, "second", u.Data)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(1)
	updates, unsubscribe := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	unsubscribe()
	assert.Equal(t, 0, b.SubscriberCount())
	_, ok := <-updates
	assert.False(t, ok)
}
