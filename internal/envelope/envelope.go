// Package envelope models the JSON envelopes exchanged over a signaling
// connection.
//
// Inbound frames decode into a closed set of variants (CreateRoom, JoinRoom,
// Relay, Unrecognized) so the control path and the relay path are
// distinguishable by type rather than by probing properties. Outbound server
// envelopes are plain structs encoded with Encode.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Type is the value of an envelope's "type" field.
type Type string

const (
	TypeCreateRoom           Type = "create-room"
	TypeJoinRoom             Type = "join-room"
	TypeRoomCreated          Type = "room-created"
	TypeRoomJoined           Type = "room-joined"
	TypeError                Type = "error"
	TypeViewerJoined         Type = "viewer-joined"
	TypeStreamerDisconnected Type = "streamer-disconnected"
)

const (
	fieldType     = "type"
	fieldTo       = "to"
	fieldFrom     = "from"
	fieldRoomCode = "roomCode"
)

// ErrMalformed is returned by Parse for frames that are not a JSON object or
// that lack the fields required by their apparent kind.
var ErrMalformed = errors.New("envelope: malformed")

// Inbound is one decoded client frame. The set of implementations is closed.
type Inbound interface {
	// Kind is a short, stable label used for logging and metrics.
	Kind() string

	inbound()
}

// CreateRoom asks the server for a new room; the sender becomes its streamer.
type CreateRoom struct{}

// JoinRoom asks to join an existing room by code.
type JoinRoom struct {
	RoomCode string
}

// Relay is an opaque payload addressed to another participant in the same
// room. Only the addressing fields are interpreted.
type Relay struct {
	To   string
	From string

	fields map[string]json.RawMessage
}

// Unrecognized is a well-formed object that is neither a control request nor
// addressed to anyone.
type Unrecognized struct {
	Type Type
}

func (CreateRoom) Kind() string   { return "create-room" }
func (JoinRoom) Kind() string     { return "join-room" }
func (Relay) Kind() string        { return "relay" }
func (Unrecognized) Kind() string { return "unrecognized" }

func (CreateRoom) inbound()   {}
func (JoinRoom) inbound()     {}
func (Relay) inbound()        {}
func (Unrecognized) inbound() {}

// Parse decodes a single client frame.
//
// The "type" field is inspected first: create-room and join-room are control
// requests. Anything else carrying a string "to" field is a relay payload,
// whatever its type. Remaining objects are Unrecognized.
func Parse(data []byte) (Inbound, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}

	var typ Type
	if raw, ok := fields[fieldType]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: type must be a string", ErrMalformed)
		}
		typ = Type(s)
	}

	switch typ {
	case TypeCreateRoom:
		return CreateRoom{}, nil
	case TypeJoinRoom:
		code, err := stringField(fields, fieldRoomCode)
		if err != nil {
			return nil, err
		}
		if code == "" {
			return nil, fmt.Errorf("%w: join-room requires roomCode", ErrMalformed)
		}
		return JoinRoom{RoomCode: code}, nil
	}

	if _, ok := fields[fieldTo]; !ok {
		return Unrecognized{Type: typ}, nil
	}
	to, err := stringField(fields, fieldTo)
	if err != nil {
		return nil, err
	}
	if to == "" {
		return Unrecognized{Type: typ}, nil
	}

	rel := Relay{To: to, fields: fields}
	if from, err := stringField(fields, fieldFrom); err == nil {
		rel.From = from
	}
	return rel, nil
}

// Stamped returns a copy of r with its sender set to from. The receiver's
// field map is never modified.
func (r Relay) Stamped(from string) Relay {
	fields := make(map[string]json.RawMessage, len(r.fields)+1)
	for k, v := range r.fields {
		fields[k] = v
	}
	r.fields = fields
	r.From = from
	return r
}

// Field returns the raw JSON of a payload field.
func (r Relay) Field(name string) (json.RawMessage, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// MarshalJSON encodes the payload as delivered to the recipient: every
// original field untouched, "from" set to the sender and "to" removed.
func (r Relay) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.fields)+1)
	for k, v := range r.fields {
		if k == fieldTo || k == fieldFrom {
			continue
		}
		out[k] = v
	}
	if r.From != "" {
		from, err := json.Marshal(r.From)
		if err != nil {
			return nil, err
		}
		out[fieldFrom] = from
	}
	return json.Marshal(out)
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	// encoding/json keeps invalid bytes inside RawMessage values, and a
	// relayed frame must stay valid UTF-8 for the recipient.
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}
	dec := json.NewDecoder(bytes.NewReader(data))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformed)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, name)
	}
	return s, nil
}
