// Package events carries room lifecycle notifications out of the relay so
// dashboards and alerting can follow camera presence without joining rooms.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	KindJoined   Kind = "joined"
	KindLeft     Kind = "left"
	KindReplaced Kind = "replaced"
	// KindEvicted is a departure forced by the liveness monitor.
	KindEvicted Kind = "evicted"
)

type Event struct {
	Kind   Kind      `json:"kind"`
	Room   string    `json:"room"`
	PeerID string    `json:"peerId"`
	ConnID string    `json:"connId,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher must not block; implementations drop what they cannot deliver.
type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Recorder keeps every event in memory. Tests use it to assert on lifecycle
// ordering.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
