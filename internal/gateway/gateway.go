// Package gateway is the realtime core of the chat service. It authenticates
// connections and tracks their sessions (Lifecycle), routes direct messages to
// the recipient's live connection (MessageRouter), and fans message
// interactions out to room members (InteractionRouter). The transport lives in
// package ws; this package only sees connection IDs and a Pusher.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/ratelimit"
)

// DefaultTimeout bounds every store and verifier call.
const DefaultTimeout = 5 * time.Second

// Pusher delivers an encoded server message to one live connection.
// *ws.Server implements it.
type Pusher interface {
	SendMessage(connID string, data []byte) error
}

// Verifier validates a bearer credential and yields the subject user ID.
// Failures wrap chat.ErrAuth.
type Verifier interface {
	Verify(token string) (subjectID string, err error)
}

// Limiter decides whether identifier may perform one more action under rule.
// An error means the limiter itself failed; the boolean is still authoritative.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// withTimeout applies d to ctx, falling back to DefaultTimeout.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// classify makes sure a collaborator failure carries a chat sentinel. Errors
// that already do pass through; deadline expiry and anything unrecognised
// become chat.ErrTransient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		chat.ErrValidation, chat.ErrNotFound, chat.ErrAuth,
		chat.ErrConflict, chat.ErrRateLimited, chat.ErrTransient,
	} {
		if errors.Is(err, sentinel) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, chat.ErrTransient, err)
}
