// Package notify publishes typed change events from the sync core to
// observers, replacing the stringly-typed broadcast notifications of the
// mobile app with an explicit registration interface.
//
// Delivery is fire-and-forget: events are sent to each subscriber's
// buffered channel with a non-blocking send, so a slow observer loses
// events rather than stalling a sync.
package notify

import "sync"

// Event identifies one kind of observable change.
type Event int

const (
	// EventAvailableItemsChanged fires when the available lesson or review
	// counts may have changed.
	EventAvailableItemsChanged Event = iota

	// EventPendingItemsChanged fires when the outbound queue grew or
	// shrank.
	EventPendingItemsChanged

	// EventUserInfoChanged fires when the cached user record was replaced.
	EventUserInfoChanged

	// EventSRSStageCountsChanged fires when the stage histogram may have
	// changed.
	EventSRSStageCountsChanged

	// EventUnauthorized fires when the server rejected the API token. The
	// UI should force a re-login.
	EventUnauthorized

	numEvents
)

// String returns the event name used on the wire and in logs.
func (e Event) String() string {
	switch e {
	case EventAvailableItemsChanged:
		return "available_items_changed"
	case EventPendingItemsChanged:
		return "pending_items_changed"
	case EventUserInfoChanged:
		return "user_info_changed"
	case EventSRSStageCountsChanged:
		return "srs_stage_counts_changed"
	case EventUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// subscriberBuffer is how many undelivered events a subscriber may hold
// before further events are dropped for it.
const subscriberBuffer = 16

// Notifier fans events out to subscribers. The zero value is not usable;
// call New.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// New creates an empty Notifier.
func New() *Notifier {
	return &Notifier{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new observer and returns its event channel.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer and closes its channel.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	if _, ok := n.subs[ch]; ok {
		delete(n.subs, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Post delivers one event to every subscriber without blocking.
func (n *Notifier) Post(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full; drop rather than stall the sync.
		}
	}
}

// Coalescer accumulates events during a batch of mutations and posts each
// distinct kind once on Flush, so a sync that merges hundreds of rows
// produces at most one notification per kind.
type Coalescer struct {
	notifier *Notifier
	pending  [numEvents]bool
}

// NewCoalescer creates a Coalescer that flushes into n.
func NewCoalescer(n *Notifier) *Coalescer {
	return &Coalescer{notifier: n}
}

// Add records that the given event should fire on Flush.
func (c *Coalescer) Add(e Event) {
	if e >= 0 && e < numEvents {
		c.pending[e] = true
	}
}

// Flush posts every recorded event once, in declaration order, and resets
// the Coalescer.
func (c *Coalescer) Flush() {
	for e := Event(0); e < numEvents; e++ {
		if c.pending[e] {
			c.pending[e] = false
			c.notifier.Post(e)
		}
	}
}
