// Package events provides the in-process synchronization event bus and the
// append-only JSONL audit log.
package events

import (
	"sync"
	"time"
)

// EventType classifies a synchronization event.
type EventType string

const (
	// EventLoad is published when the plan document is (re)loaded from disk.
	EventLoad EventType = "load"
	// EventUpdate is published after a successful UpdateData transaction.
	EventUpdate EventType = "update"
	// EventInvalidate is published when view caches are explicitly busted.
	EventInvalidate EventType = "invalidate"
	// EventSyncError is published when a write is rejected or rolled back.
	EventSyncError EventType = "sync_error"
)

// Event is one synchronization event.
type Event struct {
	Type          EventType
	Timestamp     time.Time
	Source        string
	AffectedViews []string
	Data          map[string]any
}

// Subscriber receives events asynchronously.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Delivery is asynchronous via
// buffered channels; if a subscriber's channel is full the event is dropped
// for that subscriber rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe
// function. Panics inside fn are recovered so one bad subscriber cannot
// take down delivery for the rest.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			func() {
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// Publish fans ev out to all subscribers of its type, non-blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
			// Channel full, drop for this subscriber.
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
