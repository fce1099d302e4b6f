// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/parley/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom       = "join-room"
	TypeLeaveRoom      = "leave-room"
	TypeSendMessage    = "send-message"
	TypeLikeMessage    = "like-message"
	TypeCommentMessage = "comment-message"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeConfirmation   = "confirmation"
	TypeRoomJoined     = "room-joined"
	TypeRoomLeft       = "room-left"
	TypeNewMessage     = "new-message"
	TypeMessageSent    = "message-sent"
	TypeMessageUpdated = "message-updated"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ClientMessage is implemented by every inbound request variant. Validate
// checks structural requirements (required IDs); content rules are enforced
// by the routers.
type ClientMessage interface {
	MessageType() string
	Validate() error
}

// JoinRoomMsg subscribes the connection to interaction updates for a
// conversation or message.
type JoinRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// LeaveRoomMsg unsubscribes the connection from a room.
type LeaveRoomMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// SendMessageMsg sends a direct message. The sender is the authenticated
// session's user.
type SendMessageMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// LikeMessageMsg likes a message.
type LikeMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// CommentMessageMsg attaches a comment to a message.
type CommentMessageMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

func (JoinRoomMsg) MessageType() string       { return TypeJoinRoom }
func (LeaveRoomMsg) MessageType() string      { return TypeLeaveRoom }
func (SendMessageMsg) MessageType() string    { return TypeSendMessage }
func (LikeMessageMsg) MessageType() string    { return TypeLikeMessage }
func (CommentMessageMsg) MessageType() string { return TypeCommentMessage }
func (PingMsg) MessageType() string           { return TypePing }

func (m JoinRoomMsg) Validate() error    { return chat.ValidateID("room_id", m.RoomID) }
func (m LeaveRoomMsg) Validate() error   { return chat.ValidateID("room_id", m.RoomID) }
func (m LikeMessageMsg) Validate() error { return chat.ValidateID("message_id", m.MessageID) }
func (PingMsg) Validate() error          { return nil }

func (m SendMessageMsg) Validate() error {
	return chat.ValidateID("recipient_id", m.RecipientID)
}

func (m CommentMessageMsg) Validate() error {
	return chat.ValidateID("message_id", m.MessageID)
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConfirmationMsg is sent once the handshake has authenticated the connection.
type ConfirmationMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// RoomJoinedMsg acknowledges a join-room request.
type RoomJoinedMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// RoomLeftMsg acknowledges a leave-room request.
type RoomLeftMsg struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// NewMessageMsg delivers a persisted message to the recipient.
type NewMessageMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// MessageSentMsg acknowledges a send-message request to the sender.
type MessageSentMsg struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

// MessageUpdatedMsg carries the full interaction state of a message to every
// member of its rooms.
type MessageUpdatedMsg struct {
	Type         string            `json:"type"`
	Interactions chat.Interactions `json:"interactions"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// An error is returned for malformed JSON and for unknown or server-only
// message types. The returned message has not been validated.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg ClientMessage
		err error
	)

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveRoom:
		var m LeaveRoomMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLikeMessage:
		var m LikeMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCommentMessage:
		var m CommentMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}

	if err != nil {
		return nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return msg, nil
}

// UnknownTypeError is returned by ParseClientMessage for a well-formed
// envelope whose type is not a client message.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown client message type: %q", e.Type)
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// NewErrorMessage builds an error event for the given wire code using the
// generic public description.
func NewErrorMessage(code string) ([]byte, error) {
	return NewServerMessage(TypeError, ErrorMsg{Code: code, Message: chat.PublicMessage(code)})
}
