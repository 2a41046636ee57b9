// Package signaling is the WebSocket front of the room service.
//
// A Server upgrades connections on GET /ws (and GET /) and hands every text
// frame to a Dispatcher, which decodes it, applies it to the rooms.Registry
// and enqueues the resulting envelopes on the affected connections:
//
//	create-room   -> room-created to the sender, who becomes the streamer
//	join-room     -> viewer-joined to the streamer, room-joined to the sender,
//	                 or error "Room not found"
//	{..., to: id} -> the same object, minus "to" and plus "from", to id
//
// When the streamer's connection ends its viewers get streamer-disconnected
// and are closed. A viewer leaving is silent.
package signaling
