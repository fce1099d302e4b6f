// Package httpapi serves the REST surface of the chat backend: account
// registration and login, conversation listings and message interaction
// reads. Realtime traffic goes through the WebSocket gateway instead.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/parley/chat-app/internal/auth"
	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/gateway"
)

const maxBodyBytes = 1 << 20

// Server serves the REST API next to the WebSocket endpoint. Every route
// except registration and login requires a bearer token.
type Server struct {
	accounts     *auth.Service
	store        chat.Store
	messages     *gateway.MessageRouter
	interactions *gateway.InteractionRouter
	timeout      time.Duration
	log          *zap.Logger
}

// NewServer returns the API handler. timeout bounds the store work of a
// single request.
func NewServer(
	accounts *auth.Service,
	store chat.Store,
	messages *gateway.MessageRouter,
	interactions *gateway.InteractionRouter,
	timeout time.Duration,
	log *zap.Logger,
) http.Handler {
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	s := &Server{
		accounts:     accounts,
		store:        store,
		messages:     messages,
		interactions: interactions,
		timeout:      timeout,
		log:          log.Named("http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/me", s.requireUser(s.handleMe))
	mux.HandleFunc("GET /auth", s.requireUser(s.handleMe))
	mux.HandleFunc("GET /conversations", s.requireUser(s.handleListConversations))
	mux.HandleFunc("POST /conversations", s.requireUser(s.handleCreateConversation))
	mux.HandleFunc("GET /conversations/{id}", s.requireUser(s.handleGetConversation))
	mux.HandleFunc("GET /messages/{id}/interactions", s.requireUser(s.handleInteractions))

	return s.withLogging(mux)
}

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	Password  string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type createConversationRequest struct {
	RecipientID string `json:"recipient_id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	token, user, err := s.accounts.Register(ctx, req.Email, req.FirstName, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("user registered", zap.String("user_id", user.ID))
	writeJSON(w, http.StatusCreated, tokenResponse{AccessToken: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	token, err := s.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user *chat.User) {
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request, user *chat.User) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	convs, err := s.store.FindConversationsForUser(ctx, user.ID)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request, user *chat.User) {
	var req createConversationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := chat.ValidateID("recipient_id", req.RecipientID); err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.messages.ResolveConversation(r.Context(), user.ID, req.RecipientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleGetConversation answers 404 to non-participants so conversation IDs
// cannot be enumerated.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request, user *chat.User) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	conv, err := s.store.GetConversation(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !conv.HasParticipant(user.ID) {
		s.writeError(w, r, fmt.Errorf("conversation %s: %w", conv.ID, chat.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleInteractions(w http.ResponseWriter, r *http.Request, _ *chat.User) {
	agg, err := s.interactions.GetMessageInteractions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// requireUser resolves the bearer token to a user before calling next.
func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, *chat.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeError(w, r, fmt.Errorf("%w: missing bearer token", chat.ErrAuth))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		user, err := s.accounts.Authenticate(ctx, token)
		cancel()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r, user)
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := chat.Code(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: code, Message: chat.PublicMessage(code)})
}

func statusFor(code string) int {
	switch code {
	case chat.CodeInvalidInput:
		return http.StatusBadRequest
	case chat.CodeUnauthorized:
		return http.StatusUnauthorized
	case chat.CodeNotFound:
		return http.StatusNotFound
	case chat.CodeConflict:
		return http.StatusConflict
	case chat.CodeRateLimited:
		return http.StatusTooManyRequests
	case chat.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   chat.CodeInvalidInput,
			Message: "invalid JSON body",
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
