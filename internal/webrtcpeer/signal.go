package webrtcpeer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/envelope"
)

const writeWait = time.Second

var (
	// ErrStreamerDisconnected is returned by Viewer.Run when the room closes.
	ErrStreamerDisconnected = errors.New("streamer disconnected")
	// ErrUnexpectedReply is returned when the server answers a room request
	// with something other than the expected envelope.
	ErrUnexpectedReply = errors.New("unexpected signaling reply")
)

// RoomError is a server "error" envelope, e.g. "Room not found".
type RoomError struct {
	Message string
}

func (e *RoomError) Error() string { return "signaling: " + e.Message }

// message is the union of every envelope a peer can receive.
type message struct {
	Type         envelope.Type              `json:"type"`
	RoomCode     string                     `json:"roomCode"`
	Message      string                     `json:"message"`
	From         string                     `json:"from"`
	Offer        *webrtc.SessionDescription `json:"offer"`
	Answer       *webrtc.SessionDescription `json:"answer"`
	ICECandidate *webrtc.ICECandidateInit   `json:"iceCandidate"`
}

type control struct {
	Type     envelope.Type `json:"type"`
	RoomCode string        `json:"roomCode,omitempty"`
}

type relay struct {
	To           string                     `json:"to"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	ICECandidate *webrtc.ICECandidateInit   `json:"iceCandidate,omitempty"`
}

// signalConn is a signaling WebSocket. Reads happen on one goroutine; writes
// may come from pion callbacks and are serialized by mu.
type signalConn struct {
	ws *websocket.Conn

	mu sync.Mutex
}

func dialSignal(ctx context.Context, url string, header http.Header) (*signalConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &signalConn{ws: ws}, nil
}

func (c *signalConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *signalConn) read() (message, error) {
	var m message
	err := c.ws.ReadJSON(&m)
	return m, err
}

// await reads until an envelope of type want arrives. An "error" envelope
// becomes a *RoomError.
func (c *signalConn) await(ctx context.Context, want envelope.Type) (message, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		m, err := c.read()
		if err != nil {
			if ctx.Err() != nil {
				return message{}, ctx.Err()
			}
			return message{}, err
		}
		switch m.Type {
		case want:
			_ = c.ws.SetReadDeadline(time.Time{})
			return m, nil
		case envelope.TypeError:
			return message{}, &RoomError{Message: m.Message}
		case "":
			continue
		default:
			return message{}, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedReply, m.Type, want)
		}
	}
}

// close sends a normal close frame and drops the connection.
func (c *signalConn) close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.mu.Unlock()
	if err := c.ws.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// remotePeer is one negotiated PeerConnection. Candidates that arrive before
// the remote description are held back and applied once it is set.
type remotePeer struct {
	id      string
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
}

func (p *remotePeer) setRemote(sd webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", sd.Type, err)
	}
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}
	return nil
}

func (p *remotePeer) addCandidate(c webrtc.ICECandidateInit) error {
	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, c)
		return nil
	}
	return p.pc.AddICECandidate(c)
}

// trickle forwards local candidates to the peer as they are gathered.
func trickle(sig *signalConn, pc *webrtc.PeerConnection, to string, onErr func(error)) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand := c.ToJSON()
		if err := sig.send(relay{To: to, ICECandidate: &cand}); err != nil {
			onErr(err)
		}
	})
}

// watchContext closes sig when ctx is done so a blocked read returns.
func watchContext(ctx context.Context, sig *signalConn) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = sig.ws.Close() })
}
