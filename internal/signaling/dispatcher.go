package signaling

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/envelope"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/metrics"
	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/rooms"
)

const roomNotFoundMessage = "Room not found"

// binding is a connection's room membership. A connection present in
// Dispatcher.conns with a nil binding is unbound; a connection absent from
// the map is closed.
type binding struct {
	role     rooms.Role
	identity string
	roomCode string
}

// Dispatcher routes decoded envelopes between live connections and the room
// registry.
//
// Every registry call and every binding change happens under mu, so the
// outcome of concurrent joins, leaves and relays is the same as some serial
// order. Transports are only ever sent to with non-blocking enqueues, which
// keeps mu hold times short.
type Dispatcher struct {
	registry *rooms.Registry
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	conns map[rooms.Transport]*binding
}

func NewDispatcher(registry *rooms.Registry, log *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		log:      log,
		metrics:  m,
		conns:    make(map[rooms.Transport]*binding),
	}
}

// Connect registers a new, unbound connection.
func (d *Dispatcher) Connect(t rooms.Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[t] = nil
}

// Handle processes one inbound text frame from t. Frames from connections
// that are not registered (never connected, or already disconnected) are
// ignored.
func (d *Dispatcher) Handle(t rooms.Transport, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.conns[t]
	if !ok {
		return
	}

	msg, err := envelope.Parse(data)
	if err != nil {
		d.metrics.Envelope("malformed")
		d.log.Warn("discarding malformed signaling frame", "err", err, "bytes", len(data))
		return
	}
	d.metrics.Envelope(msg.Kind())

	switch msg := msg.(type) {
	case envelope.CreateRoom:
		if b != nil {
			d.log.Debug("ignoring create-room on bound connection", "room_code", b.roomCode, "identity", b.identity)
			return
		}
		d.createRoomLocked(t)
	case envelope.JoinRoom:
		if b != nil {
			d.log.Debug("ignoring join-room on bound connection", "room_code", b.roomCode, "identity", b.identity)
			return
		}
		d.joinRoomLocked(t, msg.RoomCode)
	case envelope.Relay:
		if b == nil {
			d.log.Debug("ignoring relay from unbound connection", "to", msg.To)
			return
		}
		d.relayLocked(b, msg)
	case envelope.Unrecognized:
		d.log.Debug("ignoring unrecognized envelope", "type", string(msg.Type), "bound", b != nil)
	}
}

// Disconnect runs the leave path for t. It is idempotent.
func (d *Dispatcher) Disconnect(t rooms.Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, ok := d.conns[t]
	if !ok {
		return
	}
	delete(d.conns, t)
	if b == nil {
		return
	}

	dep := d.registry.LeaveRoom(b.roomCode, b.identity)
	if !dep.RoomClosed {
		d.log.Info("participant left room", "room_code", b.roomCode, "identity", b.identity, "role", b.role)
		return
	}

	d.log.Info("streamer left, closing room", "room_code", b.roomCode, "identity", b.identity, "viewers", len(dep.Viewers))
	for _, v := range dep.Viewers {
		d.sendLocked(v, envelope.NewStreamerDisconnected())
		v.Close()
	}
}

// Bound reports t's role and identity once it has joined a room.
func (d *Dispatcher) Bound(t rooms.Transport) (role rooms.Role, identity, roomCode string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := d.conns[t]
	if b == nil {
		return "", "", "", false
	}
	return b.role, b.identity, b.roomCode, true
}

func (d *Dispatcher) createRoomLocked(t rooms.Transport) {
	code := d.registry.CreateRoom()
	joined, err := d.registry.JoinRoom(code, t)
	if err != nil {
		// Unreachable while mu is held: nobody else can remove the room.
		d.log.Error("join of freshly created room failed", "room_code", code, "err", err)
		return
	}
	d.conns[t] = &binding{role: joined.Role, identity: joined.Identity, roomCode: code}
	d.metrics.RoomCreated()

	d.log.Info("room created", "room_code", code, "identity", joined.Identity)
	d.sendLocked(t, envelope.NewRoomCreated(code))
}

func (d *Dispatcher) joinRoomLocked(t rooms.Transport, code string) {
	joined, err := d.registry.JoinRoom(code, t)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		d.metrics.JoinFailed()
		d.log.Info("join of unknown room", "room_code", code)
		d.sendLocked(t, envelope.NewError(roomNotFoundMessage))
		return
	}
	if err != nil {
		d.log.Error("join room", "room_code", code, "err", err)
		return
	}
	d.conns[t] = &binding{role: joined.Role, identity: joined.Identity, roomCode: code}

	d.log.Info("participant joined room", "room_code", code, "identity", joined.Identity, "role", joined.Role)
	if joined.Notify != nil {
		d.sendLocked(joined.Notify, envelope.NewViewerJoined(joined.Identity))
	}
	d.sendLocked(t, envelope.NewRoomJoined())
}

func (d *Dispatcher) relayLocked(b *binding, rel envelope.Relay) {
	dst, stamped, err := d.registry.Route(b.roomCode, b.identity, rel)
	if err != nil {
		reason := metrics.DropReasonUnknownPeer
		switch {
		case errors.Is(err, rooms.ErrRoomNotFound):
			reason = metrics.DropReasonNoRoom
		case errors.Is(err, rooms.ErrRecipientClosed):
			reason = metrics.DropReasonRecipientClosed
		}
		d.metrics.RelayDropped(reason)
		d.log.Debug("relay dropped", "room_code", b.roomCode, "from", b.identity, "to", rel.To, "reason", reason)
		return
	}
	d.sendLocked(dst, stamped)
}

func (d *Dispatcher) sendLocked(t rooms.Transport, v any) {
	data, err := envelope.Encode(v)
	if err != nil {
		d.log.Error("encode envelope", "err", err)
		return
	}
	if !t.Send(data) {
		reason := metrics.DropReasonQueueFull
		if !t.Open() {
			reason = metrics.DropReasonRecipientClosed
		}
		d.metrics.RelayDropped(reason)
		d.log.Debug("outbound message dropped", "reason", reason)
	}
}
