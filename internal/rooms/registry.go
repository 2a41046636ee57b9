// Package rooms holds the in-memory table of signaling rooms.
//
// A room is created empty by CreateRoom. The first participant to join it
// becomes its streamer and every later participant is a viewer. When the
// streamer leaves, the room is removed and its viewers are handed back to the
// caller to be told and disconnected. The registry never closes a transport
// itself; it only checks whether one is still open.
package rooms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Vtheonly/Nasa-Hackathon-2025/galaxy-signaling/internal/envelope"
)

// Transport is the outbound side of a participant's connection as seen by the
// registry.
type Transport interface {
	// Open reports whether messages can still be delivered.
	Open() bool
	// Send enqueues one text frame. It never blocks and reports whether the
	// frame was accepted.
	Send(msg []byte) bool
	// Close starts an orderly shutdown of the connection.
	Close()
}

type Role string

const (
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

type Config struct {
	// NewCode generates candidate room codes. Defaults to
	// RandomCodes(DefaultCodeLength).
	NewCode func() string
	// NewIdentity generates participant identities. Defaults to
	// uuid.NewString.
	NewIdentity func() string
}

type member struct {
	identity  string
	transport Transport
}

type room struct {
	code     string
	streamer *member
	viewers  map[string]*member
}

type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	newCode     func() string
	newIdentity func() string
}

func New(cfg Config) *Registry {
	if cfg.NewCode == nil {
		cfg.NewCode = RandomCodes(DefaultCodeLength)
	}
	if cfg.NewIdentity == nil {
		cfg.NewIdentity = uuid.NewString
	}
	return &Registry{
		rooms:       make(map[string]*room),
		newCode:     cfg.NewCode,
		newIdentity: cfg.NewIdentity,
	}
}

// CreateRoom allocates an empty room under a code that is not in use.
func (r *Registry) CreateRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		code := r.newCode()
		if _, ok := r.rooms[code]; ok {
			continue
		}
		r.rooms[code] = &room{code: code, viewers: make(map[string]*member)}
		return code
	}
}

// Joined describes a successful JoinRoom.
type Joined struct {
	Role     Role
	Identity string
	RoomCode string

	// Notify is the streamer's transport when a viewer joined and the
	// streamer is still open. The caller owes it a viewer-joined envelope
	// carrying Identity. Nil otherwise.
	Notify Transport
}

// JoinRoom adds t to the room under a fresh identity.
func (r *Registry) JoinRoom(code string, t Transport) (Joined, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return Joined{}, fmt.Errorf("join %q: %w", code, ErrRoomNotFound)
	}

	m := &member{identity: r.newIdentity(), transport: t}
	if rm.streamer == nil {
		rm.streamer = m
		return Joined{Role: RoleStreamer, Identity: m.identity, RoomCode: code}, nil
	}

	rm.viewers[m.identity] = m
	joined := Joined{Role: RoleViewer, Identity: m.identity, RoomCode: code}
	if rm.streamer.transport.Open() {
		joined.Notify = rm.streamer.transport
	}
	return joined, nil
}

// Departure describes the effect of LeaveRoom.
type Departure struct {
	// RoomClosed is set when the streamer left and the room was removed.
	RoomClosed bool
	// Viewers are the still-open viewer transports of a closed room. Each is
	// owed a streamer-disconnected envelope followed by Close.
	Viewers []Transport
}

// LeaveRoom removes identity from the room. Unknown rooms and identities are
// ignored. A departing viewer is removed silently; the streamer is not told.
func (r *Registry) LeaveRoom(code, identity string) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return Departure{}
	}

	if rm.streamer != nil && rm.streamer.identity == identity {
		delete(r.rooms, code)
		dep := Departure{RoomClosed: true}
		for _, v := range sortedMembers(rm.viewers) {
			if v.transport.Open() {
				dep.Viewers = append(dep.Viewers, v.transport)
			}
		}
		return dep
	}

	delete(rm.viewers, identity)
	return Departure{}
}

// Route resolves the recipient of a relay sent by sender within the room
// and returns it together with a copy of rel stamped with the sender's
// identity. Recipients are looked up in this room only.
func (r *Registry) Route(code, sender string, rel envelope.Relay) (Transport, envelope.Relay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.streamer == nil {
		return nil, envelope.Relay{}, fmt.Errorf("route in %q: %w", code, ErrRoomNotFound)
	}

	var target *member
	if rm.streamer.identity == rel.To {
		target = rm.streamer
	} else if v, ok := rm.viewers[rel.To]; ok {
		target = v
	}
	if target == nil {
		return nil, envelope.Relay{}, ErrRecipientNotFound
	}
	if !target.transport.Open() {
		return nil, envelope.Relay{}, ErrRecipientClosed
	}
	return target.transport, rel.Stamped(sender), nil
}

// RoomInfo is a snapshot of one room's membership.
type RoomInfo struct {
	Code     string
	Streamer string
	Viewers  []string
}

func (r *Registry) Room(code string) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return RoomInfo{}, false
	}
	info := RoomInfo{Code: code}
	if rm.streamer != nil {
		info.Streamer = rm.streamer.identity
	}
	for _, v := range sortedMembers(rm.viewers) {
		info.Viewers = append(info.Viewers, v.identity)
	}
	return info, true
}

type Stats struct {
	Rooms     int
	Streamers int
	Viewers   int
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Rooms: len(r.rooms)}
	for _, rm := range r.rooms {
		if rm.streamer != nil {
			s.Streamers++
		}
		s.Viewers += len(rm.viewers)
	}
	return s
}

func sortedMembers(m map[string]*member) []*member {
	out := make([]*member, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].identity < out[j].identity })
	return out
}
