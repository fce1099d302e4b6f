package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/ws"
)

// Handlers turns dispatched client events into router calls and router
// results into server events. Router errors become a single error event on
// the originating connection; the connection stays open.
type Handlers struct {
	messages     *MessageRouter
	interactions *InteractionRouter
	rooms        *session.Rooms
	limiter      Limiter // optional
	timeout      time.Duration
	log          *zap.Logger
}

// NewHandlers creates Handlers. limiter may be nil to disable per-user rules.
func NewHandlers(messages *MessageRouter, interactions *InteractionRouter, rooms *session.Rooms, limiter Limiter, timeout time.Duration, log *zap.Logger) *Handlers {
	return &Handlers{
		messages:     messages,
		interactions: interactions,
		rooms:        rooms,
		limiter:      limiter,
		timeout:      timeout,
		log:          log.Named("handlers"),
	}
}

// Register installs every event handler on d.
func (h *Handlers) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoinRoom, h.joinRoom)
	d.Register(protocol.TypeLeaveRoom, h.leaveRoom)
	d.Register(protocol.TypeSendMessage, h.sendMessage)
	d.Register(protocol.TypeLikeMessage, h.likeMessage)
	d.Register(protocol.TypeCommentMessage, h.commentMessage)
}

func (h *Handlers) joinRoom(conn *ws.Connection, msg protocol.ClientMessage) {
	m := msg.(protocol.JoinRoomMsg)
	h.rooms.Join(m.RoomID, conn.ID)
	h.reply(conn, protocol.TypeRoomJoined, protocol.RoomJoinedMsg{RoomID: m.RoomID})
}

func (h *Handlers) leaveRoom(conn *ws.Connection, msg protocol.ClientMessage) {
	m := msg.(protocol.LeaveRoomMsg)
	h.rooms.Leave(m.RoomID, conn.ID)
	h.reply(conn, protocol.TypeRoomLeft, protocol.RoomLeftMsg{RoomID: m.RoomID})
}

func (h *Handlers) sendMessage(conn *ws.Connection, msg protocol.ClientMessage) {
	m := msg.(protocol.SendMessageMsg)
	if !h.allow(conn, ratelimit.RuleMessage) {
		return
	}

	ctx, cancel := h.context()
	defer cancel()

	sent, err := h.messages.SendMessage(ctx, conn.SubjectID, m.RecipientID, m.Content)
	if err != nil {
		h.fail(conn, protocol.TypeSendMessage, err)
		return
	}
	h.reply(conn, protocol.TypeMessageSent, protocol.MessageSentMsg{Message: *sent})
}

func (h *Handlers) likeMessage(conn *ws.Connection, msg protocol.ClientMessage) {
	m := msg.(protocol.LikeMessageMsg)
	if !h.allow(conn, ratelimit.RuleAction) {
		return
	}

	ctx, cancel := h.context()
	defer cancel()

	if _, err := h.interactions.LikeMessage(ctx, conn.SubjectID, m.MessageID); err != nil {
		h.fail(conn, protocol.TypeLikeMessage, err)
	}
}

func (h *Handlers) commentMessage(conn *ws.Connection, msg protocol.ClientMessage) {
	m := msg.(protocol.CommentMessageMsg)
	if !h.allow(conn, ratelimit.RuleAction) {
		return
	}

	ctx, cancel := h.context()
	defer cancel()

	if _, err := h.interactions.CommentMessage(ctx, conn.SubjectID, m.MessageID, m.Content); err != nil {
		h.fail(conn, protocol.TypeCommentMessage, err)
	}
}

// context bounds a whole event. Each collaborator call inside it is bounded
// separately by the routers.
func (h *Handlers) context() (context.Context, context.CancelFunc) {
	d := h.timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(context.Background(), 4*d)
}

// allow applies rule to the connection's subject and answers rate_limited
// when it is exceeded.
func (h *Handlers) allow(conn *ws.Connection, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ctx, cancel := h.context()
	defer cancel()

	ok, err := h.limiter.Allow(ctx, conn.SubjectID, rule)
	if err != nil {
		h.log.Warn("limiter error", zap.String("rule", rule.Key), zap.Error(err))
	}
	if !ok {
		h.send(conn, chat.CodeRateLimited)
		return false
	}
	return true
}

func (h *Handlers) fail(conn *ws.Connection, event string, err error) {
	code := chat.Code(err)
	fields := []zap.Field{
		zap.String("conn_id", conn.ID),
		zap.String("user_id", conn.SubjectID),
		zap.String("event", event),
		zap.String("code", code),
		zap.Error(err),
	}
	if code == chat.CodeInternal || code == chat.CodeUnavailable {
		h.log.Warn("event failed", fields...)
	} else {
		h.log.Debug("event rejected", fields...)
	}
	h.send(conn, code)
}

func (h *Handlers) send(conn *ws.Connection, code string) {
	data, err := protocol.NewErrorMessage(code)
	if err != nil {
		h.log.Error("encode error event", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		h.log.Debug("send error event", zap.String("conn_id", conn.ID), zap.Error(err))
	}
}

func (h *Handlers) reply(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		h.log.Error("encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		h.log.Debug("send reply", zap.String("conn_id", conn.ID), zap.String("type", msgType), zap.Error(err))
	}
}
