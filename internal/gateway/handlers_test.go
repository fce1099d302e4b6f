package gateway

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/ws"
)

func newDispatcher(t *testing.T, h *harness, limiter Limiter) *ws.MessageDispatcher {
	t.Helper()
	log := zaptest.NewLogger(t)
	d := ws.NewMessageDispatcher(log)
	NewHandlers(h.messages, h.interactions, h.rooms, limiter, time.Second, log).Register(d)
	return d
}

func errorCode(t *testing.T, m map[string]json.RawMessage) string {
	t.Helper()
	if eventType(t, m) != protocol.TypeError {
		t.Fatalf("expected error event, got %s", m["type"])
	}
	var code string
	if err := json.Unmarshal(m["code"], &code); err != nil {
		t.Fatalf("decode code: %v", err)
	}
	return code
}

func TestHandlers_SendMessage(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, nil)
	conn, rc := newConn("c1", h.u1.ID)
	h.sessions.Register(h.u2.ID, "c2")

	d.Dispatch(conn, []byte(fmt.Sprintf(`{"type":"send-message","recipient_id":%q,"content":"hello"}`, h.u2.ID)))

	frames := rc.frames(t)
	if len(frames) != 1 || eventType(t, frames[0]) != protocol.TypeMessageSent {
		t.Fatalf("expected a single message-sent reply, got %v", frames)
	}
	var sent chat.Message
	if err := json.Unmarshal(frames[0]["message"], &sent); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if sent.Content != "hello" || sent.SenderID != h.u1.ID {
		t.Errorf("unexpected message: %+v", sent)
	}
	if len(h.push.events(t, "c2")) != 1 {
		t.Errorf("recipient should receive new-message")
	}
}

func TestHandlers_SendMessageError(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, nil)
	conn, rc := newConn("c1", h.u1.ID)

	d.Dispatch(conn, []byte(`{"type":"send-message","recipient_id":"ghost","content":"hello"}`))

	frames := rc.frames(t)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if code := errorCode(t, frames[0]); code != chat.CodeNotFound {
		t.Fatalf("expected %s, got %s", chat.CodeNotFound, code)
	}
}

func TestHandlers_SendMessageRateLimited(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, ratelimit.NewLocalLimiter())
	conn, rc := newConn("c1", h.u1.ID)
	payload := []byte(fmt.Sprintf(`{"type":"send-message","recipient_id":%q,"content":"hi"}`, h.u2.ID))

	for i := 0; i <= ratelimit.RuleMessage.Limit; i++ {
		d.Dispatch(conn, payload)
	}

	frames := rc.frames(t)
	if len(frames) != ratelimit.RuleMessage.Limit+1 {
		t.Fatalf("expected %d frames, got %d", ratelimit.RuleMessage.Limit+1, len(frames))
	}
	for _, f := range frames[:ratelimit.RuleMessage.Limit] {
		if eventType(t, f) != protocol.TypeMessageSent {
			t.Fatalf("expected message-sent, got %s", f["type"])
		}
	}
	if code := errorCode(t, frames[len(frames)-1]); code != chat.CodeRateLimited {
		t.Fatalf("expected %s, got %s", chat.CodeRateLimited, code)
	}
}

func TestHandlers_Rooms(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, nil)
	conn, rc := newConn("c1", h.u1.ID)

	d.Dispatch(conn, []byte(`{"type":"join-room","room_id":"r1"}`))
	if !h.rooms.IsMember("r1", "c1") {
		t.Fatal("expected membership after join-room")
	}
	d.Dispatch(conn, []byte(`{"type":"leave-room","room_id":"r1"}`))
	if h.rooms.IsMember("r1", "c1") {
		t.Fatal("expected no membership after leave-room")
	}

	frames := rc.frames(t)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if eventType(t, frames[0]) != protocol.TypeRoomJoined || eventType(t, frames[1]) != protocol.TypeRoomLeft {
		t.Fatalf("unexpected replies: %s, %s", frames[0]["type"], frames[1]["type"])
	}
}

func TestHandlers_LikeBroadcastsToRoom(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, nil)
	msg := seedMessage(t, h)

	liker, likerConn := newConn("c1", h.u2.ID)
	d.Dispatch(liker, []byte(fmt.Sprintf(`{"type":"join-room","room_id":%q}`, msg.ID)))
	h.rooms.Join(msg.ConversationID, "watcher")

	d.Dispatch(liker, []byte(fmt.Sprintf(`{"type":"like-message","message_id":%q}`, msg.ID)))
	d.Dispatch(liker, []byte(fmt.Sprintf(`{"type":"comment-message","message_id":%q,"content":"nice"}`, msg.ID)))

	// Only the room-joined reply is written directly; updates arrive through
	// the pusher.
	if n := len(likerConn.frames(t)); n != 1 {
		t.Fatalf("expected only the room-joined reply, got %d frames", n)
	}
	for _, connID := range []string{"c1", "watcher"} {
		events := h.push.events(t, connID)
		if len(events) != 2 {
			t.Fatalf("%s: expected 2 message-updated events, got %d", connID, len(events))
		}
	}
}

func TestHandlers_CommentOnMissingMessage(t *testing.T) {
	h := newHarness(t)
	d := newDispatcher(t, h, nil)
	conn, rc := newConn("c1", h.u1.ID)

	d.Dispatch(conn, []byte(`{"type":"comment-message","message_id":"missing","content":"hi"}`))

	frames := rc.frames(t)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if code := errorCode(t, frames[0]); code != chat.CodeNotFound {
		t.Fatalf("expected %s, got %s", chat.CodeNotFound, code)
	}
}
