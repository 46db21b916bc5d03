package signaling

import (
	"strings"

	"github.com/gorilla/websocket"

	"github.com/fast-security-fast/Fast-security-server/internal/auth"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
)

// Router applies one inbound frame to the registry on behalf of a
// connection. Frames of a single connection are routed in arrival order by
// that connection's read goroutine.
type Router struct {
	registry *Registry
	gate     auth.JoinGate
	metrics  *metrics.Metrics
}

func NewRouter(registry *Registry, gate auth.JoinGate, m *metrics.Metrics) *Router {
	return &Router{registry: registry, gate: gate, metrics: m}
}

func (rt *Router) Route(c *Conn, data []byte) {
	// A replaced or closing connection has already been told to go away.
	if c.replaced.Load() || c.isClosing() {
		return
	}

	f, err := parseFrame(data)
	if err != nil {
		rt.metrics.Inc(metrics.ProtocolError)
		c.Send(invalidFrameError(err))
		return
	}

	switch {
	case f.Type == messageTypeJoin:
		rt.join(c, f)
	case f.Type == messageTypeLeave:
		rt.leave(c, f)
	case f.isRelay():
		rt.relay(c, f)
	default:
		rt.metrics.Inc(metrics.ProtocolError)
		c.Send(errorFrame(ErrCodeUnknownType))
	}
}

func (rt *Router) join(c *Conn, f inboundFrame) {
	room := strings.TrimSpace(f.Room)
	peerID := strings.TrimSpace(f.PeerID)
	if room == "" || peerID == "" {
		rt.metrics.Inc(metrics.ProtocolError)
		c.Send(errorFrame(ErrCodeMissingRoomPeer))
		return
	}

	if !rt.gate.Allow(f.Token) {
		rt.metrics.Inc(metrics.AuthFailure)
		c.log.Warn("join rejected: bad token", "room", room, "peer_id", peerID)
		c.Send(errorFrame(ErrCodeUnauthorized))
		c.CloseWith(websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	// Moving to a different slot releases the old one first.
	if c.joined && (c.room != room || c.peerID != peerID) {
		rt.registry.Leave(c.room, c.peerID, c)
	}

	peers := rt.registry.Join(room, peerID, c)
	c.room, c.peerID, c.joined = room, peerID, true
	c.Send(joinedFrame(room, peerID, peers))
}

func (rt *Router) leave(c *Conn, f inboundFrame) {
	room := strings.TrimSpace(f.Room)
	peerID := strings.TrimSpace(f.PeerID)
	if room == "" {
		room = c.room
	}
	if peerID == "" {
		peerID = c.peerID
	}

	// Identity-checked, so a frame naming someone else's slot removes nothing.
	if room != "" && peerID != "" {
		rt.registry.Leave(room, peerID, c)
	}
	if c.joined && room == c.room && peerID == c.peerID {
		c.room, c.peerID, c.joined = "", "", false
	}
	c.Send(leftFrame(room, peerID))
}

func (rt *Router) relay(c *Conn, f inboundFrame) {
	room := strings.TrimSpace(f.Room)
	from := strings.TrimSpace(f.From)
	to := strings.TrimSpace(f.To)
	// A joined sender fills omitted fields from its membership and cannot
	// claim another room or identity.
	if c.joined {
		if (room != "" && room != c.room) || (from != "" && from != c.peerID) {
			rt.metrics.Inc(metrics.ProtocolError)
			c.Send(errorFrame(ErrCodeSenderMismatch))
			return
		}
		room, from = c.room, c.peerID
	}
	if room == "" || from == "" || to == "" {
		rt.metrics.Inc(metrics.ProtocolError)
		c.Send(errorFrame(ErrCodeMissingRoutingTo))
		return
	}

	target, ok := rt.registry.Lookup(room, to)
	if !ok {
		rt.metrics.Inc(metrics.TargetNotFound)
		c.Send(targetNotFoundFrame(to))
		return
	}
	rt.metrics.Inc(metrics.Forwarded)
	target.Send(relayFrame(f, room, from, to))
}

// Disconnect releases whatever membership c still holds. It is safe to call
// more than once.
func (rt *Router) Disconnect(c *Conn) {
	if !c.joined {
		return
	}
	room, peerID := c.room, c.peerID
	c.room, c.peerID, c.joined = "", "", false

	if c.timedOut.Load() {
		rt.registry.Evict(room, peerID, c)
		return
	}
	rt.registry.Leave(room, peerID, c)
}
