package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/auth"
	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/metrics"
	"github.com/parley/chat-app/internal/ratelimit"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/ws"
)

// Lifecycle authenticates connections at handshake and registers their
// sessions. It implements ws.Lifecycle.
type Lifecycle struct {
	verifier Verifier
	users    chat.UserLookup
	sessions *session.Registry
	rooms    *session.Rooms
	limiter  Limiter // optional
	log      *zap.Logger
}

var _ ws.Lifecycle = (*Lifecycle)(nil)

// NewLifecycle creates a Lifecycle. limiter may be nil to disable the
// per-IP connect rule.
func NewLifecycle(verifier Verifier, users chat.UserLookup, sessions *session.Registry, rooms *session.Rooms, limiter Limiter, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		verifier: verifier,
		users:    users,
		sessions: sessions,
		rooms:    rooms,
		limiter:  limiter,
		log:      log.Named("lifecycle"),
	}
}

// OnConnect extracts the bearer credential from the Authorization header or
// the token query parameter, verifies it, confirms the subject exists and
// registers the session. Any error leaves no session behind; ctx carries the
// handshake deadline.
func (l *Lifecycle) OnConnect(ctx context.Context, connID string, hs ws.Handshake) (string, error) {
	if l.limiter != nil {
		ok, err := l.limiter.Allow(ctx, hs.RemoteAddr, ratelimit.RuleConnect)
		if err != nil {
			l.log.Warn("connect limiter error", zap.String("remote_addr", hs.RemoteAddr), zap.Error(err))
		}
		if !ok {
			metrics.HandshakesTotal.WithLabelValues("rate_limited").Inc()
			return "", fmt.Errorf("connect from %s: %w", hs.RemoteAddr, chat.ErrRateLimited)
		}
	}

	token := auth.BearerToken(hs.Header.Get("Authorization"))
	if token == "" {
		token = hs.Query.Get("token")
	}
	if token == "" {
		metrics.HandshakesTotal.WithLabelValues("missing_credential").Inc()
		return "", fmt.Errorf("handshake: %w: missing credential", chat.ErrAuth)
	}

	subjectID, err := l.verifier.Verify(token)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("invalid_credential").Inc()
		if !errors.Is(err, chat.ErrAuth) {
			err = fmt.Errorf("%w: %v", chat.ErrAuth, err)
		}
		return "", fmt.Errorf("handshake: %w", err)
	}

	if _, err := l.users.GetUser(ctx, subjectID); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			metrics.HandshakesTotal.WithLabelValues("unknown_user").Inc()
			return "", fmt.Errorf("handshake: %w: unknown subject %s", chat.ErrAuth, subjectID)
		}
		metrics.HandshakesTotal.WithLabelValues("error").Inc()
		return "", classify("handshake: lookup user", err)
	}

	l.sessions.Register(subjectID, connID)
	metrics.SessionsTotal.Set(float64(l.sessions.Count()))
	metrics.HandshakesTotal.WithLabelValues("accepted").Inc()

	l.log.Debug("session registered", zap.String("conn_id", connID), zap.String("user_id", subjectID))
	return subjectID, nil
}

// OnDisconnect removes the connection's session and room memberships. It is
// safe to call for connections that never registered.
func (l *Lifecycle) OnDisconnect(connID string) {
	removed := l.sessions.Remove(connID)
	l.rooms.LeaveAll(connID)
	metrics.SessionsTotal.Set(float64(l.sessions.Count()))
	if removed {
		l.log.Debug("session removed", zap.String("conn_id", connID))
	}
}
