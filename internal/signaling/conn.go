package signaling

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
	"github.com/fast-security-fast/Fast-security-server/internal/ratelimit"
)

const (
	wsWriteWait = 5 * time.Second
	// wsCloseGrace bounds how long a closing connection waits for the peer's
	// close reply before the socket is dropped.
	wsCloseGrace = 2 * time.Second
)

// Conn is one signaling WebSocket. All writes go through a single writer
// goroutine fed by a bounded queue, so Send never blocks the caller.
type Conn struct {
	id      string
	ws      *websocket.Conn
	log     *slog.Logger
	metrics *metrics.Metrics
	limiter *ratelimit.TokenBucket

	send    chan []byte
	pingReq chan struct{}

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string
	writerDone  chan struct{}

	awaitingPong atomic.Bool
	replaced     atomic.Bool
	timedOut     atomic.Bool

	// Membership state; only touched by the goroutine reading ws.
	room   string
	peerID string
	joined bool
}

func newConn(ws *websocket.Conn, queueLen int, limiter *ratelimit.TokenBucket, logger *slog.Logger, m *metrics.Metrics) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:         id,
		ws:         ws,
		log:        logger.With("conn_id", id),
		metrics:    m,
		limiter:    limiter,
		send:       make(chan []byte, queueLen),
		pingReq:    make(chan struct{}, 1),
		closing:    make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(frame []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.metrics.Inc(metrics.SendDropped)
		c.log.Debug("send queue full, frame dropped")
		return false
	}
}

func (c *Conn) Replace() {
	c.replaced.Store(true)
	c.Send(byeFrame(byeReasonReplaced))
	c.CloseWith(websocket.CloseNormalClosure, byeReasonReplaced)
}

// CloseWith asks the writer to flush what is already queued, send a close
// frame and stop. Only the first call has any effect. A zero code stops the
// writer without a close frame.
func (c *Conn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

func (c *Conn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// Ping marks the connection as awaiting a pong and queues a ping. It returns
// false without pinging if the previous ping was never answered.
func (c *Conn) Ping() bool {
	if c.awaitingPong.Swap(true) {
		return false
	}
	select {
	case c.pingReq <- struct{}{}:
	default:
	}
	return true
}

// Terminate drops the socket without a close handshake. The read loop fails
// and runs the normal cleanup.
func (c *Conn) Terminate() {
	c.timedOut.Store(true)
	c.CloseWith(0, "")
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

func (c *Conn) handlePong(string) error {
	c.awaitingPong.Store(false)
	return nil
}

func (c *Conn) writePump() {
	defer close(c.writerDone)

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.pingReq:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = c.ws.Close()
				return
			}
		case <-c.closing:
			c.finishWrites()
			return
		}
	}
}

func (c *Conn) finishWrites() {
	if c.closeCode == 0 {
		return
	}
drain:
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				_ = c.ws.Close()
				return
			}
		default:
			break drain
		}
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait)); err != nil {
		_ = c.ws.Close()
		return
	}
	// The read loop normally returns once the peer echoes the close frame.
	time.AfterFunc(wsCloseGrace, func() { _ = c.ws.Close() })
}

func (c *Conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}
