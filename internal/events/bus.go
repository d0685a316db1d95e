// Package events provides the in-process publish/subscribe mechanism through
// which UI sessions and other consumers learn that a condition or its
// schedule changed. The bus is fan-out only: it carries no business logic,
// gives no ordering guarantee, and may deliver duplicates. Consumers are
// expected to de-bounce their own reactions (see Debounce).
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is the closed set of change notifications the bus carries.
type Action string

// Bus actions.
const (
	ActionArm       Action = "arm"
	ActionDisarm    Action = "disarm"
	ActionCheckIn   Action = "check_in"
	ActionUpdate    Action = "update"
	ActionDelivered Action = "delivered"
)

// Event is a single change notification.
//
// Optimistic is set on events published before the server state is committed
// (the UI may update immediately pending confirmation); confirmed events
// carry Optimistic=false.
type Event struct {
	Action      Action
	ConditionID string
	MessageID   string
	Optimistic  bool
}

// Filter selects which events a subscriber receives. The zero Filter matches
// everything; a non-empty ConditionID or MessageID restricts delivery to
// events carrying that id.
type Filter struct {
	ConditionID string
	MessageID   string
}

func (f Filter) matches(e Event) bool {
	if f.ConditionID != "" && f.ConditionID != e.ConditionID {
		return false
	}
	if f.MessageID != "" && f.MessageID != e.MessageID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

// Bus is a process-wide event notifier. Construct with NewBus and inject it
// as a dependency; the package deliberately exposes no ambient singleton.
//
// Publish never blocks: subscribers that cannot keep up have events dropped
// on the floor, which is acceptable because every event is a hint to re-read
// authoritative state, not a state carrier.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewBus constructs an empty Bus ready for use.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers interest in events matching the filter and returns a
// receive channel plus a cancel function. The channel is buffered; events
// arriving while the buffer is full are dropped for that subscriber. Cancel
// closes the channel and is safe to call more than once.
func (b *Bus) Subscribe(f Filter) (<-chan Event, func()) {
	id := uuid.NewString()
	sub := &subscriber{filter: f, ch: make(chan Event, 16)}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish fans the event out to every matching subscriber without blocking.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Subscriber buffer full; drop rather than stall the publisher.
		}
	}
}

// Debounce wraps fn so that invocations within the quiet period collapse into
// one trailing call. Subscribers use it to avoid refresh storms when a burst
// of events lands (the UI guideline is a 2–5 second quiet period).
func Debounce(quiet time.Duration, fn func()) func() {
	var mu sync.Mutex
	var timer *time.Timer
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(quiet, fn)
	}
}
