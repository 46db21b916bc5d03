package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fast-security-fast/Fast-security-server/internal/auth"
	"github.com/fast-security-fast/Fast-security-server/internal/config"
	"github.com/fast-security-fast/Fast-security-server/internal/events"
	"github.com/fast-security-fast/Fast-security-server/internal/metrics"
	"github.com/fast-security-fast/Fast-security-server/internal/ratelimit"
)

type Options struct {
	// WSSecret, when non-empty, must be presented as the join token.
	WSSecret string

	LivenessInterval  time.Duration
	MaxMessageBytes   int64
	MessagesPerSecond int
	SendQueueLength   int

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Events  events.Publisher
	// Clock drives the per-connection rate limiter. Defaults to the wall
	// clock.
	Clock ratelimit.Clock
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		WSSecret:          cfg.WSSecret,
		LivenessInterval:  cfg.LivenessInterval,
		MaxMessageBytes:   cfg.MaxSignalingMessageBytes,
		MessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueLength:   cfg.SendQueueLength,
	}
}

func (o Options) withDefaults() Options {
	if o.LivenessInterval <= 0 {
		o.LivenessInterval = config.DefaultLivenessInterval
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if o.MessagesPerSecond <= 0 {
		o.MessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if o.SendQueueLength <= 0 {
		o.SendQueueLength = config.DefaultSendQueueLength
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Events == nil {
		o.Events = events.Nop{}
	}
	if o.Clock == nil {
		o.Clock = ratelimit.RealClock{}
	}
	return o
}

// Server accepts signaling WebSockets at GET /ws.
type Server struct {
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics
	gate     auth.JoinGate
	registry *Registry
	router   *Router
	monitor  *Monitor
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewServer(opts Options) *Server {
	opts = opts.withDefaults()

	s := &Server{
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		gate:    auth.JoinGate{Secret: auth.SharedSecret{Expected: opts.WSSecret}},
		registry: NewRegistry(RegistryOptions{
			Logger:  opts.Logger,
			Metrics: opts.Metrics,
			Events:  opts.Events,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are enforced by the HTTP middleware in front of /ws.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
	s.router = NewRouter(s.registry, s.gate, s.metrics)
	s.monitor = NewMonitor(opts.LivenessInterval, s.probes, s.log, s.metrics)
	return s
}

func (s *Server) Registry() *Registry { return s.registry }

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /ws", s)
	mux.HandleFunc("GET /rooms/suggest", s.handleSuggestRoom)
}

// Run drives the liveness monitor until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.monitor.Run(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	c := newConn(ws, s.opts.SendQueueLength,
		ratelimit.PerSecond(s.opts.Clock, s.opts.MessagesPerSecond),
		s.log.With("remote_addr", r.RemoteAddr), s.metrics)
	ws.SetPongHandler(c.handlePong)

	if !s.track(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		_ = ws.Close()
		return
	}
	defer s.untrack(c)

	s.metrics.Inc(metrics.WSConnect)
	s.metrics.AddConnections(1)
	c.log.Debug("websocket connected")

	go c.writePump()
	c.Send(helloFrame(c.id, s.gate.Required()))

	s.readLoop(c)

	s.router.Disconnect(c)
	c.CloseWith(0, "")
	<-c.writerDone
	_ = ws.Close()

	s.metrics.Inc(metrics.WSDisconnect)
	s.metrics.AddConnections(-1)
	c.log.Debug("websocket disconnected", "timed_out", c.timedOut.Load(), "replaced", c.replaced.Load())
}

func (s *Server) readLoop(c *Conn) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && !c.isClosing() {
				c.log.Debug("websocket read failed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			s.metrics.Inc(metrics.ProtocolError)
			c.Send(errorFrame(ErrCodeInvalidJSON))
			continue
		}
		if !c.limiter.Allow(1) {
			s.metrics.Inc(metrics.RateLimited)
			c.Send(errorFrame(ErrCodeRateLimited))
			continue
		}
		s.router.Route(c, data)
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) probes() []Probe {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Probe, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ConnCount returns the number of open connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.conns)
}

// Shutdown refuses new connections, closes every open one with 1001 and
// waits for their cleanup or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for c := range s.conns {
			_ = c.ws.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}
