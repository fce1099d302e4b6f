package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/protocol"
	"github.com/parley/chat-app/internal/session"
)

// MessageRouter persists direct messages and pushes each one to a live
// connection of its recipient.
type MessageRouter struct {
	store    chat.Store
	sessions *session.Registry
	push     Pusher
	timeout  time.Duration
	log      *zap.Logger
}

// NewMessageRouter creates a MessageRouter. timeout bounds each store call.
func NewMessageRouter(store chat.Store, sessions *session.Registry, push Pusher, timeout time.Duration, log *zap.Logger) *MessageRouter {
	return &MessageRouter{
		store:    store,
		sessions: sessions,
		push:     push,
		timeout:  timeout,
		log:      log.Named("messages"),
	}
}

// SendMessage validates content, resolves or creates the sender/recipient
// conversation, persists the message and, when the recipient is connected,
// pushes a new-message event to exactly one of their connections. A recipient
// without a session gets no push; the message is still stored.
func (r *MessageRouter) SendMessage(ctx context.Context, senderID, recipientID, content string) (msg *chat.Message, err error) {
	start := time.Now()
	defer func() {
		metrics.RouteLatency.WithLabelValues("send_message").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.MessagesTotal.WithLabelValues(chat.Code(err)).Inc()
		}
	}()

	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}
	if err := chat.ValidateID("recipient_id", recipientID); err != nil {
		return nil, err
	}
	if senderID == recipientID {
		return nil, fmt.Errorf("%w: cannot message yourself", chat.ErrValidation)
	}

	conv, err := r.ResolveConversation(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := withTimeout(ctx, r.timeout)
	msg, err = r.store.AppendMessage(storeCtx, conv.ID, senderID, content)
	cancel()
	if err != nil {
		return nil, classify("append message", err)
	}

	connID, online := r.sessions.FindBySubject(recipientID)
	if !online {
		metrics.MessagesTotal.WithLabelValues("stored").Inc()
		r.log.Debug("recipient offline",
			zap.String("message_id", msg.ID),
			zap.String("user_id", recipientID))
		return msg, nil
	}

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{Message: *msg})
	if err != nil {
		// The message is persisted; only the push is lost.
		r.log.Error("encode new-message", zap.String("message_id", msg.ID), zap.Error(err))
		return msg, nil
	}
	if err := r.push.SendMessage(connID, data); err != nil {
		r.log.Info("push new-message failed",
			zap.String("conn_id", connID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		metrics.MessagesTotal.WithLabelValues("stored").Inc()
		return msg, nil
	}

	metrics.MessagesTotal.WithLabelValues("pushed").Inc()
	return msg, nil
}

// ResolveConversation returns the conversation between a and b, creating it
// when none exists yet.
func (r *MessageRouter) ResolveConversation(ctx context.Context, a, b string) (*chat.Conversation, error) {
	if a == b {
		return nil, fmt.Errorf("%w: a conversation needs two distinct users", chat.ErrValidation)
	}

	findCtx, cancel := withTimeout(ctx, r.timeout)
	convs, err := r.store.FindConversationsForUser(findCtx, a)
	cancel()
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		return nil, classify("find conversations", err)
	}
	for i := range convs {
		if convs[i].HasParticipant(b) {
			return &convs[i], nil
		}
	}

	createCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	conv, err := r.store.CreateConversation(createCtx, a, b)
	if err != nil {
		return nil, classify("create conversation", err)
	}
	r.log.Debug("conversation resolved",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", a))
	return conv, nil
}
