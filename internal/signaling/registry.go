package signaling

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fast-security-fast/Fast-security-server/internal/events"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
)

// Peer is a room member as the registry sees it.
//
// Send and Replace must not block: the registry calls them while holding its
// lock so members observe membership changes in the order they happened.
type Peer interface {
	ID() string
	// Send queues frame for delivery and reports whether it was queued.
	// Failures are dropped silently.
	Send(frame []byte) bool
	// Replace tells the peer it has been superseded by a newer connection
	// using the same peer id and starts closing it.
	Replace()
}

// Registry maps room -> peer id -> peer. A room exists only while it has at
// least one member.
type Registry struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	events  events.Publisher
	now     func() time.Time

	mu    sync.Mutex
	rooms map[string]map[string]Peer
}

type RegistryOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Events  events.Publisher
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Registry{
		log:     opts.Logger,
		metrics: opts.Metrics,
		events:  opts.Events,
		now:     time.Now,
		rooms:   make(map[string]map[string]Peer),
	}
}

// Join installs p as peerID in room and returns the other members, sorted.
//
// A different peer already holding peerID is replaced: it receives bye and
// is closed before p is installed. The other members are sent peer-joined.
// Joining again with the peer that already holds the slot changes nothing
// and broadcasts nothing.
func (r *Registry) Join(room, peerID string, p Peer) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Peer)
		r.rooms[room] = members
	}

	prev, held := members[peerID]
	if held && prev == p {
		return otherMembers(members, peerID)
	}
	if held {
		delete(members, peerID)
		prev.Replace()
		r.metrics.Inc(metrics.Replaced)
		r.publish(events.KindReplaced, room, peerID, prev.ID())
		r.log.Info("peer replaced", "room", room, "peer_id", peerID, "old_conn_id", prev.ID(), "conn_id", p.ID())
	}

	members[peerID] = p
	r.metrics.Inc(metrics.Join)
	r.metrics.SetRooms(len(r.rooms))
	r.publish(events.KindJoined, room, peerID, p.ID())
	r.log.Debug("peer joined", "room", room, "peer_id", peerID, "conn_id", p.ID())

	r.broadcastLocked(members, peerJoinedFrame(room, peerID), peerID)
	return otherMembers(members, peerID)
}

// Leave removes peerID from room if p still holds it, broadcasting peer-left
// to the remaining members. It reports whether anything was removed; leaving
// a slot that is already gone, or that a newer peer took over, is a no-op.
func (r *Registry) Leave(room, peerID string, p Peer) bool {
	return r.remove(room, peerID, p, events.KindLeft)
}

// Evict is Leave for peers dropped by the liveness monitor.
func (r *Registry) Evict(room, peerID string, p Peer) bool {
	return r.remove(room, peerID, p, events.KindEvicted)
}

func (r *Registry) remove(room, peerID string, p Peer, kind events.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if cur, ok := members[peerID]; !ok || cur != p {
		return false
	}

	delete(members, peerID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	r.metrics.Inc(metrics.Leave)
	r.metrics.SetRooms(len(r.rooms))
	r.publish(kind, room, peerID, p.ID())
	r.log.Debug("peer left", "room", room, "peer_id", peerID, "conn_id", p.ID(), "kind", string(kind))

	r.broadcastLocked(members, peerLeftFrame(room, peerID), "")
	return true
}

// Lookup returns the peer holding peerID in room.
func (r *Registry) Lookup(room, peerID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rooms[room][peerID]
	return p, ok
}

// Broadcast sends frame to every member of room except the peer named
// except (empty for none). Undeliverable members are skipped.
func (r *Registry) Broadcast(room string, frame []byte, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.broadcastLocked(r.rooms[room], frame, except)
}

func (r *Registry) broadcastLocked(members map[string]Peer, frame []byte, except string) {
	for id, p := range members {
		if id == except {
			continue
		}
		p.Send(frame)
	}
}

// Members returns the sorted peer ids in room.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return otherMembers(r.rooms[room], "")
}

// HasRoom reports whether room currently has members.
func (r *Registry) HasRoom(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.rooms[room]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

func (r *Registry) publish(kind events.Kind, room, peerID, connID string) {
	r.events.Publish(events.Event{
		Kind:   kind,
		Room:   room,
		PeerID: peerID,
		ConnID: connID,
		At:     r.now().UTC(),
	})
}

func otherMembers(members map[string]Peer, except string) []string {
	out := make([]string, 0, len(members))
	for id := range members {
		if id != except {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
