package signaling

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/metrics"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/ratelimit"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
)

const (
	DefaultIdleTimeout          = 60 * time.Second
	DefaultPingInterval         = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueLength      = 256
)

// Config wires together the runtime dependencies of the signaling service.
// Zero durations and sizes take the Default* values.
type Config struct {
	Registry *rooms.Registry
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// CheckOrigin is passed to the WebSocket upgrader. Nil allows every
	// origin, which is only appropriate when an outer middleware already
	// enforces the origin policy.
	CheckOrigin func(*http.Request) bool

	// Clock drives per-connection rate limiting. Nil means the wall clock.
	Clock clockwork.Clock

	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes int64
	// MaxMessagesPerSecond < 0 disables rate limiting.
	MaxMessagesPerSecond int
	SendQueueLength      int
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = rooms.New(rooms.Config{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.MaxMessagesPerSecond == 0 {
		c.MaxMessagesPerSecond = DefaultMaxMessagesPerSecond
	}
	if c.SendQueueLength <= 0 {
		c.SendQueueLength = DefaultSendQueueLength
	}
	return c
}

// Server accepts signaling WebSockets and hands their frames to a
// Dispatcher.
//
// Endpoints:
//   - GET /ws : signaling WebSocket
//   - GET /   : same, for clients that dial the bare host
type Server struct {
	cfg        Config
	log        *slog.Logger
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	closing bool
	conns   map[*wsConn]struct{}
	wg      sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:        cfg,
		log:        cfg.Logger,
		dispatcher: NewDispatcher(cfg.Registry, cfg.Logger, cfg.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		conns: make(map[*wsConn]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /{$}", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Close closes every live connection with 1001 (going away) and waits for
// their goroutines to finish. Each close still runs the leave path, so the
// registry is empty afterwards. Connections accepted after Close are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down", causeShutdown)
	}
	s.wg.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		s.log.Debug("websocket upgrade failed", "err", err, "remote_addr", r.RemoteAddr)
		return
	}

	limiter := ratelimit.PerSecond(s.cfg.Clock, s.cfg.MaxMessagesPerSecond)
	c := newWSConn(ws, s.log.With("remote_addr", r.RemoteAddr), s.cfg.SendQueueLength, limiter)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(wsWriteWait))
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.cfg.Metrics.ConnectionOpened()
	s.dispatcher.Connect(c)
	c.log.Debug("signaling connection opened")

	go c.writePump(s.cfg.PingInterval)
	go s.serve(c)
}

func (s *Server) serve(c *wsConn) {
	defer s.wg.Done()

	c.readPump(s.cfg.MaxMessageBytes, s.cfg.IdleTimeout, func(data []byte) {
		s.dispatcher.Handle(c, data)
	})

	// Unbind before the transport finishes closing so later relays to this
	// identity are not routed to a dead queue.
	s.dispatcher.Disconnect(c)
	c.closeWith(websocket.CloseNormalClosure, "", causeClient)

	cause := c.closeCause()
	s.cfg.Metrics.ConnectionClosed(cause)
	c.log.Debug("signaling connection closed", "cause", cause)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}
