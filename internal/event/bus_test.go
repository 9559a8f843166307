package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event delivered: %v", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 4)
	unsub := bus.Subscribe(SessionCreated, func(e Event) { received <- e })
	defer unsub()

	bus.Publish(Event{Type: SessionCreated, Data: "one"})
	bus.Publish(Event{Type: SessionUpdated, Data: "other type"})

	e := recvEvent(t, received)
	assert.Equal(t, SessionCreated, e.Type)
	assert.Equal(t, "one", e.Data)

	// The session.updated event never reaches this subscriber.
	assertNoEvent(t, received)
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 4)
	unsub := bus.SubscribeAll(func(e Event) { received <- e })
	defer unsub()

	bus.Publish(Event{Type: SessionCreated})
	bus.Publish(Event{Type: MessageUpdated})
	bus.Publish(Event{Type: StreamChunk})

	assert.Equal(t, SessionCreated, recvEvent(t, received).Type)
	assert.Equal(t, MessageUpdated, recvEvent(t, received).Type)
	assert.Equal(t, StreamChunk, recvEvent(t, received).Type)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 4)
	unsub := bus.Subscribe(SessionIdle, func(e Event) { received <- e })

	bus.Publish(Event{Type: SessionIdle})
	recvEvent(t, received)

	unsub()
	bus.Publish(Event{Type: SessionIdle})
	assertNoEvent(t, received)
}

func TestBus_PanickingSubscriberIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(SessionError, func(e Event) { panic("boom") })
	bus.Subscribe(SessionError, func(e Event) { received <- e })

	bus.Publish(Event{Type: SessionError})
	recvEvent(t, received)

	// The panicking subscriber keeps receiving later events too.
	bus.Publish(Event{Type: SessionError})
	recvEvent(t, received)
}

func TestBus_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	release := make(chan struct{})
	slowDone := make(chan Event, 4)
	bus.Subscribe(StreamChunk, func(e Event) {
		<-release
		slowDone <- e
	})

	fast := make(chan Event, 4)
	bus.Subscribe(StreamChunk, func(e Event) { fast <- e })

	// Publish returns without waiting on the parked subscriber, and the
	// fast subscriber receives while the slow one is still blocked.
	bus.Publish(Event{Type: StreamChunk, Data: "a"})
	bus.Publish(Event{Type: StreamChunk, Data: "b"})
	assert.Equal(t, "a", recvEvent(t, fast).Data)
	assert.Equal(t, "b", recvEvent(t, fast).Data)

	select {
	case <-slowDone:
		t.Fatal("slow subscriber ran before release")
	default:
	}

	// The slow subscriber still gets its full backlog, in order.
	close(release)
	assert.Equal(t, "a", recvEvent(t, slowDone).Data)
	assert.Equal(t, "b", recvEvent(t, slowDone).Data)
}

func TestBus_PerSubscriberOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var seen []any
	bus.Subscribe(StreamChunk, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Data)
		mu.Unlock()
	})

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(Event{Type: StreamChunk, Data: i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		assert.Equal(t, i, seen[i])
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(SessionCreated, func(e Event) { received <- e })

	assert.NoError(t, bus.Close())

	bus.Publish(Event{Type: SessionCreated})
	assertNoEvent(t, received)

	// Subscribing after close returns a no-op unsubscriber.
	unsub := bus.Subscribe(SessionCreated, func(e Event) { received <- e })
	unsub()
	bus.Publish(Event{Type: SessionCreated})
	assertNoEvent(t, received)
}
