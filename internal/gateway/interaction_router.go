package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/protocol"
)

// InteractionRouter records likes and comments and broadcasts the updated
// interaction state to every member of the message's rooms.
type InteractionRouter struct {
	users   chat.UserLookup
	store   chat.Store
	bcast   Broadcaster
	timeout time.Duration
	log     *zap.Logger
}

// NewInteractionRouter creates an InteractionRouter. timeout bounds each store
// call.
func NewInteractionRouter(users chat.UserLookup, store chat.Store, bcast Broadcaster, timeout time.Duration, log *zap.Logger) *InteractionRouter {
	return &InteractionRouter{
		users:   users,
		store:   store,
		bcast:   bcast,
		timeout: timeout,
		log:     log.Named("interactions"),
	}
}

// LikeMessage records a like by userID and returns the message's aggregate.
// Repeated likes are all kept.
func (r *InteractionRouter) LikeMessage(ctx context.Context, userID, messageID string) (*chat.Interactions, error) {
	return r.interact(ctx, "like", userID, messageID, func(ctx context.Context) error {
		_, err := r.store.AppendLike(ctx, messageID, userID)
		return err
	}, nil)
}

// CommentMessage records a comment by userID and returns the message's
// aggregate. Whitespace-only content is rejected.
func (r *InteractionRouter) CommentMessage(ctx context.Context, userID, messageID, content string) (*chat.Interactions, error) {
	return r.interact(ctx, "comment", userID, messageID, func(ctx context.Context) error {
		_, err := r.store.AppendComment(ctx, messageID, userID, content)
		return err
	}, func() error { return chat.ValidateContent(content) })
}

// GetMessageInteractions returns the current aggregate without changing it.
func (r *InteractionRouter) GetMessageInteractions(ctx context.Context, messageID string) (*chat.Interactions, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	agg, err := r.store.GetInteractions(ctx, messageID)
	if err != nil {
		return nil, classify("get interactions", err)
	}
	return agg, nil
}

// interact runs the shared pipeline: user lookup, message lookup, optional
// content validation, append, aggregate read, room broadcast.
func (r *InteractionRouter) interact(
	ctx context.Context,
	kind, userID, messageID string,
	appendFn func(context.Context) error,
	validate func() error,
) (agg *chat.Interactions, err error) {
	start := time.Now()
	defer func() {
		metrics.RouteLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = chat.Code(err)
		}
		metrics.InteractionsTotal.WithLabelValues(kind, result).Inc()
	}()

	if err := chat.ValidateID("message_id", messageID); err != nil {
		return nil, err
	}

	if err := r.call(ctx, "lookup user", func(ctx context.Context) error {
		_, err := r.users.GetUser(ctx, userID)
		return err
	}); err != nil {
		return nil, err
	}

	var msg *chat.Message
	if err := r.call(ctx, "lookup message", func(ctx context.Context) error {
		var err error
		msg, err = r.store.GetMessage(ctx, messageID)
		return err
	}); err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(); err != nil {
			return nil, err
		}
	}

	if err := r.call(ctx, "append "+kind, appendFn); err != nil {
		return nil, err
	}

	agg, err = r.GetMessageInteractions(ctx, messageID)
	if err != nil {
		return nil, err
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessageUpdated, protocol.MessageUpdatedMsg{Interactions: *agg})
	if err != nil {
		r.log.Error("encode message-updated", zap.String("message_id", messageID), zap.Error(err))
		return agg, nil
	}
	r.bcast.Broadcast([]string{msg.ID, msg.ConversationID}, data)

	r.log.Debug("interaction recorded",
		zap.String("kind", kind),
		zap.String("message_id", messageID),
		zap.String("user_id", userID),
		zap.Int("likes", len(agg.Likes)),
		zap.Int("comments", len(agg.Comments)))
	return agg, nil
}

func (r *InteractionRouter) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return classify(op, fn(ctx))
}
