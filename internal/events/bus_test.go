package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel2()

	bus.Publish(Event{Type: ReviewCreated, AgentID: "agent-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, ReviewCreated, ev.Type)
			assert.Equal(t, "agent-1", ev.AgentID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: AgentRegistered, AgentID: "a"})
	// Buffer is full; this publish must return without blocking.
	bus.Publish(Event{Type: AgentRegistered, AgentID: "b"})

	ev := <-ch
	assert.Equal(t, "a", ev.AgentID)

	select {
	case ev := <-ch:
		t.Fatalf("expected dropped event, got %v", ev)
	default:
	}
}

func TestCancelClosesChannelAndStopsDelivery(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Cancel is idempotent and publishing after cancel is safe.
	cancel()
	bus.Publish(Event{Type: AgentDeleted, AgentID: "agent-1"})
}
