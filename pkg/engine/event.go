package engine

import (
	"sync"
	"time"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventRouteDecided      EventKind = "route_decided"
	EventDispatchOK        EventKind = "dispatch_ok"
	EventDispatchFailed    EventKind = "dispatch_failed"
	EventFirstTokenTimeout EventKind = "first_token_timeout"
)

// Event is an immutable notification of engine activity.
type Event struct {
	Kind      EventKind
	TraceID   string
	Model     string
	Timestamp time.Time
	// Data is a router.TraceRecord for route_decided, a DispatchInfo for
	// dispatch_ok, and the error for dispatch_failed.
	Data any
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// EventBus fans out events to all active subscribers. It is safe for
// concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	// nowFunc stamps events published without a timestamp.
	nowFunc func() time.Time
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:    make(map[*Subscription]struct{}),
		nowFunc: time.Now,
	}
}

// Subscribe creates a new subscription with the given channel buffer size.
// The caller should read from sub.C and eventually call Unsubscribe.
func (b *EventBus) Subscribe(bufSize int) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to all subscribers, stamping it with the current
// time when Timestamp is zero. If a subscriber's buffer is full the event is
// dropped for that subscriber so slow consumers never stall a turn.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = b.nowFunc()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}
