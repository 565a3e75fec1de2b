package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	updates := make(chan Event, 10)
	loads := make(chan Event, 10)
	bus.Subscribe(EventUpdate, func(ev Event) { updates <- ev })
	bus.Subscribe(EventLoad, func(ev Event) { loads <- ev })

	bus.Publish(Event{Type: EventUpdate, Source: "test", AffectedViews: []string{"dashboard"}})

	select {
	case ev := <-updates:
		assert.Equal(t, "test", ev.Source)
		assert.Equal(t, []string{"dashboard"}, ev.AffectedViews)
		assert.False(t, ev.Timestamp.IsZero(), "publish stamps missing timestamps")
	case <-time.After(2 * time.Second):
		t.Fatal("update subscriber received nothing")
	}

	select {
	case <-loads:
		t.Fatal("load subscriber must not see update events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 10)
	unsubscribe := bus.Subscribe(EventInvalidate, func(ev Event) { received <- ev })
	unsubscribe()

	bus.Publish(Event{Type: EventInvalidate})

	select {
	case <-received:
		t.Fatal("unsubscribed handler still received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	bus.Subscribe(EventSyncError, func(Event) { panic("bad subscriber") })
	received := make(chan Event, 10)
	bus.Subscribe(EventSyncError, func(ev Event) { received <- ev })

	bus.Publish(Event{Type: EventSyncError})
	bus.Publish(Event{Type: EventSyncError})

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("healthy subscriber missed event %d", i)
		}
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(EventUpdate, func(Event) {
		started <- struct{}{}
		<-block
	})

	// First event occupies the handler, second fills the buffer, the rest
	// must drop without blocking this goroutine.
	bus.Publish(Event{Type: EventUpdate})
	require.Eventually(t, func() bool {
		select {
		case <-started:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(Event{Type: EventUpdate})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a saturated subscriber")
	}
	close(block)
}
