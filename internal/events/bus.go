// Package events carries registry lifecycle events to in-process consumers:
// the webhook dispatcher and the websocket event stream.
package events

import (
	"sync"
	"time"
)

const (
	AgentRegistered   = "agent.registered"
	AgentUpdated      = "agent.updated"
	AgentDeleted      = "agent.deleted"
	ReviewCreated     = "review.created"
	ReputationUpdated = "reputation.updated"
)

type Event struct {
	Type      string      `json:"type"`
	AgentID   string      `json:"agent_id"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bus is a small fan-out: every published event is offered to every
// subscriber. A subscriber that cannot keep up drops events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a buffered channel of events and a cancel function that
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
