package rooms

import "errors"

var (
	// ErrRoomNotFound is returned when a room code does not name a live room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRecipientNotFound is returned by Route when the addressed identity is
	// not a member of the sender's room.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrRecipientClosed is returned by Route when the addressed member exists
	// but its transport is no longer open.
	ErrRecipientClosed = errors.New("recipient transport closed")
)
