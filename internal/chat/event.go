package chat

import "encoding/json"

// RoomEvent is the payload published to the NATS rooms.broadcast subject so
// that every gateway process can deliver an encoded server message to the
// local members of the listed rooms.
type RoomEvent struct {
	Rooms   []string        `json:"rooms"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"` // publishing process, receivers skip their own
}
