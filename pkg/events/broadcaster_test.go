package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilotz/copilotz/pkg/models"
)

func testEvent(threadID string, eventType models.EventType) *models.Event {
	now := time.Now().UTC()
	return &models.Event{
		ID:        "ev-" + string(eventType),
		ThreadID:  threadID,
		Type:      eventType,
		Status:    models.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBroadcaster_PublishDeliversToThreadSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	subA := b.Subscribe("thread-a", 4)
	subB := b.Subscribe("thread-b", 4)
	require.NotNil(t, subA)
	require.NotNil(t, subB)

	b.Publish(testEvent("thread-a", models.EventNewMessage))

	select {
	case got := <-subA.Events():
		assert.Equal(t, "thread-a", got.ThreadID)
		assert.Equal(t, models.EventNewMessage, got.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber A received nothing")
	}

	select {
	case got := <-subB.Events():
		t.Fatalf("subscriber B received foreign event %v", got)
	default:
	}
}

func TestBroadcaster_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe("thread-a", 1)
	require.NotNil(t, sub)

	b.Publish(testEvent("thread-a", models.EventNewMessage))
	b.Publish(testEvent("thread-a", models.EventLLMCall))

	assert.Equal(t, int64(1), b.Dropped())

	got := <-sub.Events()
	assert.Equal(t, models.EventNewMessage, got.Type)
}

func TestBroadcaster_CloseSubscription(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe("thread-a", 4)
	require.Equal(t, 1, b.SubscriberCount("thread-a"))

	sub.Close()
	sub.Close() // idempotent

	assert.Equal(t, 0, b.SubscriberCount("thread-a"))

	_, open := <-sub.Events()
	assert.False(t, open)

	// Publishing after the last subscriber left is a no-op.
	b.Publish(testEvent("thread-a", models.EventNewMessage))
	assert.Equal(t, int64(0), b.Dropped())
}

func TestBroadcaster_CloseRejectsNewSubscribers(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe("thread-a", 4)
	require.NotNil(t, sub)

	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Nil(t, b.Subscribe("thread-a", 4))
}
