// Package event provides the broadcast hub that fans out domain events to
// subscribers, built on watermill's gochannel pub/sub infrastructure.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/codeloom-ai/codeloom/internal/logging"
)

// Type represents the type of event.
type Type string

const (
	SessionCreated    Type = "session.created"
	SessionUpdated    Type = "session.updated"
	SessionStatus     Type = "session.status"
	SessionIdle       Type = "session.idle"
	SessionError      Type = "session.error"
	MessageUpdated    Type = "message.updated"
	MessagePartUpdate Type = "message.part.updated"
	PermissionAsked   Type = "permission.asked"
	PermissionReplied Type = "permission.replied"
	StreamChunk       Type = "stream.event"
)

// Event is one published domain event.
type Event struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

// Subscriber receives events. Each subscriber is drained by its own
// goroutine, so a slow subscriber backs up only its own queue and a
// panicking one is logged and skipped.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	q  *eventQueue
}

// eventQueue is an unbounded FIFO owned by one subscriber. push never
// blocks; the subscriber's drain goroutine consumes in publish order.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue) push(event Event) {
	q.mu.Lock()
	if !q.closed {
		q.events = append(q.events, event)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// pop blocks until an event is available or the queue is closed and drained.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.events) == 0 {
		return Event{}, false
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event, true
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Bus is the event broadcast hub. Publish enqueues to every current
// subscriber and returns without waiting on any of them: the emitter is
// never blocked, a slow subscriber delays only itself, and each subscriber
// sees events in publish order. There is no buffering or replay across
// subscriptions, so a subscriber that connects after an event was emitted
// never sees it. The session store, not the bus, is the source of truth for
// history.
type Bus struct {
	mu sync.RWMutex

	// Watermill infrastructure kept for middleware/routing and for
	// switching to a distributed backend without changing callers.
	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID       uint64
	closed       bool
	closedCtx    context.Context
	closedCancel context.CancelFunc
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers:  make(map[Type][]subscriberEntry),
		closedCtx:    ctx,
		closedCancel: cancel,
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// newEntry registers a queue for fn and starts its drain goroutine.
func (b *Bus) newEntry(fn Subscriber) subscriberEntry {
	entry := subscriberEntry{id: b.newID(), q: newEventQueue()}
	go func() {
		for {
			event, ok := entry.q.pop()
			if !ok {
				return
			}
			deliver(fn, event)
		}
	}()
	return entry
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := b.newEntry(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], entry)

	return func() {
		b.unsubscribe(eventType, entry.id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	entry := b.newEntry(fn)
	b.global = append(b.global, entry)

	return func() {
		b.unsubscribeGlobal(entry.id)
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			entry.q.close()
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			entry.q.close()
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish enqueues the event for every current subscriber and returns
// immediately. Delivery happens on each subscriber's own goroutine.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, entry := range b.subscribers[event.Type] {
		entry.q.push(event)
	}
	for _, entry := range b.global {
		entry.q.push(event)
	}
}

func deliver(sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Str("eventType", string(event.Type)).
				Any("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	sub(event)
}

// Close shuts the bus down. Subsequent publishes are dropped and subsequent
// subscribes return no-op unsubscribers. Subscriber queues drain their
// backlog and stop.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.closedCancel()
	for _, entries := range b.subscribers {
		for _, entry := range entries {
			entry.q.close()
		}
	}
	for _, entry := range b.global {
		entry.q.close()
	}
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}

// PubSub returns the underlying watermill GoChannel for advanced use cases.
func (b *Bus) PubSub() *gochannel.GoChannel {
	return b.pubsub
}
