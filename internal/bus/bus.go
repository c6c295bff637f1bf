// Package bus provides the typed event bus the UI layer subscribes to.
//
// The orchestrator publishes an event for every local mutation, the realtime
// bridge for every merged remote change, and the sync engine for status
// transitions. Subscribers get their own buffered channel; a slow subscriber
// drops events rather than blocking publishers.
package bus

import (
	"sync"
	"time"
)

// EventType discriminates bus events.
type EventType string

const (
	// EventRecordInserted fires when a record appears in the local store.
	EventRecordInserted EventType = "record_inserted"
	// EventRecordUpdated fires when a record's domain fields change.
	EventRecordUpdated EventType = "record_updated"
	// EventRecordDeleted fires when a record is removed locally.
	EventRecordDeleted EventType = "record_deleted"
	// EventSyncStateChanged fires when the engine starts, progresses, or
	// finishes a pass, and when connectivity flips.
	EventSyncStateChanged EventType = "sync_state_changed"
)

// Origin says which side caused a record event.
const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// Event is one bus notification.
type Event struct {
	Type     EventType
	Table    string
	RecordID string
	Origin   string
	Time     time.Time
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel function. The channel
// is closed when cancel is called or the bus shuts down.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber without blocking. The event
// timestamp is filled in if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the writer.
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
