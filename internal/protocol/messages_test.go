package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/parley/chat-app/internal/chat"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid send-message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send-message","recipient_id":"u2","content":"hello"}`)

	msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageType() != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msg.MessageType())
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.RecipientID != "u2" {
		t.Errorf("expected recipient_id %q, got %q", "u2", sm.RecipientID)
	}
	if sm.Content != "hello" {
		t.Errorf("expected content %q, got %q", "hello", sm.Content)
	}
	if err := sm.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid comment-message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_CommentMessage(t *testing.T) {
	input := []byte(`{"type":"comment-message","message_id":"m1","content":"nice"}`)

	msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cm, ok := msg.(CommentMessageMsg)
	if !ok {
		t.Fatalf("expected CommentMessageMsg, got %T", msg)
	}
	if cm.MessageID != "m1" || cm.Content != "nice" {
		t.Errorf("unexpected payload: %+v", cm)
	}
}

// ---------------------------------------------------------------------------
// Test: Structural validation of request variants
// ---------------------------------------------------------------------------

func TestValidate_MissingIDs(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"join-room without room", `{"type":"join-room"}`},
		{"leave-room blank room", `{"type":"leave-room","room_id":"  "}`},
		{"send-message without recipient", `{"type":"send-message","content":"hi"}`},
		{"like-message without message", `{"type":"like-message"}`},
		{"comment-message without message", `{"type":"comment-message","content":"hi"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			err = msg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, chat.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Creating a new-message server message
// ---------------------------------------------------------------------------

func TestNewServerMessage_NewMessage(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	payload := NewMessageMsg{Message: chat.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		SenderName:     "Ada",
		Content:        "hello",
		CreatedAt:      created,
	}}

	data, err := NewServerMessage(TypeNewMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded NewMessageMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if decoded.Type != TypeNewMessage {
		t.Errorf("expected type %q, got %q", TypeNewMessage, decoded.Type)
	}
	if decoded.Message.ID != "m1" || decoded.Message.ConversationID != "c1" {
		t.Errorf("unexpected message ids: %+v", decoded.Message)
	}
	if decoded.Message.SenderID != "u1" || decoded.Message.SenderName != "Ada" {
		t.Errorf("sender identity lost: %+v", decoded.Message)
	}
	if !decoded.Message.CreatedAt.Equal(created) {
		t.Errorf("expected created_at %v, got %v", created, decoded.Message.CreatedAt)
	}
}

func TestNewErrorMessage(t *testing.T) {
	data, err := NewErrorMessage(chat.CodeNotFound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded ErrorMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeError {
		t.Errorf("expected type %q, got %q", TypeError, decoded.Type)
	}
	if decoded.Code != chat.CodeNotFound {
		t.Errorf("expected code %q, got %q", chat.CodeNotFound, decoded.Code)
	}
	if decoded.Message == "" {
		t.Error("expected a non-empty public message")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing an unknown message type returns an error
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"new-message","data":"something"}`)

	msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for server-only message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}

	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTypeError, got %T", err)
	}
	if unknown.Type != "new-message" {
		t.Errorf("expected type %q, got %q", "new-message", unknown.Type)
	}
}

func TestParseClientMessage_WrongFieldType(t *testing.T) {
	input := []byte(`{"type":"send-message","recipient_id":42,"content":"hi"}`)

	if _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected decode error for numeric recipient_id")
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope UnmarshalJSON edge cases
// ---------------------------------------------------------------------------

func TestEnvelope_MissingType(t *testing.T) {
	input := []byte(`{"data":"no type field"}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for missing type field, got nil")
	}
}

func TestEnvelope_InvalidJSON(t *testing.T) {
	input := []byte(`{invalid json}`)
	var env Envelope
	if err := json.Unmarshal(input, &env); err == nil {
		t.Fatal("expected error for invalid JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing all client message types succeeds
// ---------------------------------------------------------------------------

func TestParseClientMessage_AllTypes(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		wantType string
	}{
		{"join-room", `{"type":"join-room","room_id":"c1"}`, TypeJoinRoom},
		{"leave-room", `{"type":"leave-room","room_id":"c1"}`, TypeLeaveRoom},
		{"send-message", `{"type":"send-message","recipient_id":"u2","content":"hi"}`, TypeSendMessage},
		{"like-message", `{"type":"like-message","message_id":"m1"}`, TypeLikeMessage},
		{"comment-message", `{"type":"comment-message","message_id":"m1","content":"ok"}`, TypeCommentMessage},
		{"ping", `{"type":"ping"}`, TypePing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tc.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatal("expected non-nil message")
			}
			if msg.MessageType() != tc.wantType {
				t.Errorf("expected type %q, got %q", tc.wantType, msg.MessageType())
			}
			if err := msg.Validate(); err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
