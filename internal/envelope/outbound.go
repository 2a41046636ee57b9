package envelope

import "encoding/json"

// RoomCreated confirms create-room; the recipient is the room's streamer.
type RoomCreated struct {
	Type     Type   `json:"type"`
	RoomCode string `json:"roomCode"`
}

// RoomJoined confirms a successful join-room.
type RoomJoined struct {
	Type Type `json:"type"`
}

// Error reports a failed request to the client.
type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// ViewerJoined tells a streamer that a viewer has joined its room.
type ViewerJoined struct {
	Type Type   `json:"type"`
	From string `json:"from"`
}

// StreamerDisconnected tells a viewer that the room is gone.
type StreamerDisconnected struct {
	Type Type `json:"type"`
}

func NewRoomCreated(code string) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, RoomCode: code}
}

func NewRoomJoined() RoomJoined {
	return RoomJoined{Type: TypeRoomJoined}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewViewerJoined(from string) ViewerJoined {
	return ViewerJoined{Type: TypeViewerJoined, From: from}
}

func NewStreamerDisconnected() StreamerDisconnected {
	return StreamerDisconnected{Type: TypeStreamerDisconnected}
}

// Encode serialises an outbound envelope (or a Relay) into one text frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
