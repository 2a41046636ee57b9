package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	// closeGrace bounds how long the writer waits for the peer to answer our
	// close frame before dropping the TCP connection.
	closeGrace = 2 * time.Second
)

// Close causes, used for logging and the connections_closed_total metric.
const (
	causeClient      = "client"
	causeIdle        = "idle_timeout"
	causeTooLarge    = "message_too_large"
	causeRateLimited = "rate_limited"
	causeShutdown    = "shutdown"
	causeRoomClosed  = "room_closed"
	causeWriteError  = "write_error"
)

// wsConn is one signaling WebSocket. It implements rooms.Transport.
//
// Outbound frames go through a bounded FIFO drained by writePump, the only
// goroutine that writes data frames. Closing the connection closes the queue;
// the writer drains what is already queued, sends a close frame and then
// tears the socket down.
type wsConn struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	cause       string
	send        chan []byte

	readDone chan struct{}
	limiter  *ratelimit.TokenBucket
}

func newWSConn(conn *websocket.Conn, log *slog.Logger, queueLen int, limiter *ratelimit.TokenBucket) *wsConn {
	if queueLen <= 0 {
		queueLen = 1
	}
	return &wsConn{
		conn:     conn,
		log:      log,
		send:     make(chan []byte, queueLen),
		readDone: make(chan struct{}),
		limiter:  limiter,
	}
}

func (c *wsConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send enqueues msg without blocking. It fails when the connection is closed
// or the queue is full.
func (c *wsConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close is called by the dispatcher when the room this viewer watched has
// been closed.
func (c *wsConn) Close() {
	c.closeWith(websocket.CloseNormalClosure, "", causeRoomClosed)
}

// closeWith marks the connection closed. The first call wins.
func (c *wsConn) closeWith(code int, reason, cause string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.cause = cause
	close(c.send)
}

func (c *wsConn) closeCause() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsConn) writePump(pingInterval time.Duration) {
	defer c.conn.Close()

	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.writeClose()
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "", causeWriteError)
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "", causeWriteError)
				return
			}
		}
	}
}

// writeClose sends the close frame and gives the peer a moment to answer so
// the frame is not lost to a reset.
func (c *wsConn) writeClose() {
	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()

	if code != websocket.CloseAbnormalClosure {
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	}
	select {
	case <-c.readDone:
	case <-time.After(closeGrace):
	}
}

// readPump delivers inbound text frames to handle until the connection
// fails or is closed. idleTimeout bounds the time between any two inbound
// frames, pongs included.
func (c *wsConn) readPump(maxMessageBytes int64, idleTimeout time.Duration, handle func([]byte)) {
	defer close(c.readDone)

	if maxMessageBytes > 0 {
		c.conn.SetReadLimit(maxMessageBytes)
	}
	extend := func() {
		if idleTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}
	}
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.closeWith(websocket.CloseMessageTooBig, "message too large", causeTooLarge)
			case isTimeout(err):
				c.closeWith(websocket.CloseGoingAway, "idle timeout", causeIdle)
			default:
				c.closeWith(websocket.CloseNormalClosure, "", causeClient)
			}
			return
		}
		extend()

		// Rate limit after the read so buffered bytes are consumed and the
		// client reliably observes the close code.
		if !c.limiter.Allow(1) {
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded", causeRateLimited)
			return
		}
		if msgType != websocket.TextMessage {
			c.log.Debug("discarding non-text frame", "message_type", msgType)
			continue
		}
		if !c.Open() {
			return
		}
		handle(data)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
