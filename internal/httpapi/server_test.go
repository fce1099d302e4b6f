package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/parley/chat-app/internal/auth"
	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/gateway"
	"github.com/parley/chat-app/internal/httpapi"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/storage/memory"
)

type nopPusher struct{}

func (nopPusher) SendMessage(string, []byte) error { return nil }

type testAPI struct {
	handler http.Handler
	store   *memory.Store
	msgs    *gateway.MessageRouter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := memory.New()
	tokens := auth.NewTokenService([]byte("test-secret-test-secret-test-secret"), time.Hour)
	msgs := gateway.NewMessageRouter(store, session.NewRegistry(), nopPusher{}, time.Second, log)
	interactions := gateway.NewInteractionRouter(store, store,
		gateway.NewLocalBroadcaster(session.NewRooms(), nopPusher{}, log), time.Second, log)

	return &testAPI{
		handler: httpapi.NewServer(auth.NewService(store, tokens), store, msgs, interactions, time.Second, log),
		store:   store,
		msgs:    msgs,
	}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func (a *testAPI) register(t *testing.T, email, name string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "first_name": name, "password": "correct-horse",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d, body=%s", email, w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("register %s: missing access token: %s", email, w.Body.String())
	}
	return resp.AccessToken
}

func (a *testAPI) me(t *testing.T, token string) chat.User {
	t.Helper()
	w := a.do(t, http.MethodGet, "/auth/me", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", w.Code)
	}
	var u chat.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	return u
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestRegisterLoginMe(t *testing.T) {
	api := newTestAPI(t)
	token := api.register(t, "Ada@Example.com", "Ada")

	u := api.me(t, token)
	if u.Email != "ada@example.com" || u.FirstName != "Ada" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if bytes.Contains(api.do(t, http.MethodGet, "/auth", token, nil).Body.Bytes(), []byte("password")) {
		t.Fatal("user response must not expose the password hash")
	}

	w := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "correct-horse",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
}

func TestAuthErrors(t *testing.T) {
	api := newTestAPI(t)
	api.register(t, "ada@example.com", "Ada")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"duplicate email", http.MethodPost, "/auth/register", "",
			map[string]string{"email": "ADA@example.com", "first_name": "Ada", "password": "correct-horse"},
			http.StatusConflict, chat.CodeConflict},
		{"short password", http.MethodPost, "/auth/register", "",
			map[string]string{"email": "bob@example.com", "first_name": "Bob", "password": "short"},
			http.StatusBadRequest, chat.CodeInvalidInput},
		{"wrong password", http.MethodPost, "/auth/login", "",
			map[string]string{"email": "ada@example.com", "password": "wrong-password"},
			http.StatusUnauthorized, chat.CodeUnauthorized},
		{"unknown email", http.MethodPost, "/auth/login", "",
			map[string]string{"email": "nobody@example.com", "password": "correct-horse"},
			http.StatusUnauthorized, chat.CodeUnauthorized},
		{"missing token", http.MethodGet, "/auth/me", "", nil,
			http.StatusUnauthorized, chat.CodeUnauthorized},
		{"forged token", http.MethodGet, "/conversations", "not-a-jwt", nil,
			http.StatusUnauthorized, chat.CodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.token, tt.body)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d, body=%s", tt.status, w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	api.handler.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestConversations(t *testing.T) {
	api := newTestAPI(t)
	ada := api.register(t, "ada@example.com", "Ada")
	bob := api.register(t, "bob@example.com", "Bob")
	eve := api.register(t, "eve@example.com", "Eve")
	adaID, bobID := api.me(t, ada).ID, api.me(t, bob).ID

	w := api.do(t, http.MethodGet, "/conversations", ada, nil)
	if w.Code != http.StatusOK || bytes.TrimSpace(w.Body.Bytes())[0] != '[' {
		t.Fatalf("expected an empty list, got %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPost, "/conversations", ada, map[string]string{"recipient_id": bobID})
	if w.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d, body=%s", w.Code, w.Body.String())
	}
	var conv chat.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if !conv.HasParticipant(adaID) || !conv.HasParticipant(bobID) {
		t.Fatalf("unexpected participants: %+v", conv.Participants)
	}

	if _, err := api.msgs.SendMessage(context.Background(), adaID, bobID, "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	w = api.do(t, http.MethodGet, "/conversations/"+conv.ID, bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var full chat.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &full); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	if len(full.Messages) != 1 || full.Messages[0].Content != "hello" {
		t.Fatalf("expected the sent message, got %+v", full.Messages)
	}

	w = api.do(t, http.MethodGet, "/conversations/"+conv.ID, eve, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-participant: expected 404, got %d", w.Code)
	}

	w = api.do(t, http.MethodGet, "/conversations", bob, nil)
	var list []chat.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || len(list[0].Messages) != 1 {
		t.Fatalf("expected one conversation with its latest message, got %+v", list)
	}

	w = api.do(t, http.MethodPost, "/conversations", ada, map[string]string{"recipient_id": adaID})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("self conversation: expected 400, got %d", w.Code)
	}
}

func TestMessageInteractions(t *testing.T) {
	api := newTestAPI(t)
	ada := api.register(t, "ada@example.com", "Ada")
	bob := api.register(t, "bob@example.com", "Bob")
	adaID, bobID := api.me(t, ada).ID, api.me(t, bob).ID

	msg, err := api.msgs.SendMessage(context.Background(), adaID, bobID, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, err := api.store.AppendLike(context.Background(), msg.ID, bobID); err != nil {
		t.Fatalf("AppendLike: %v", err)
	}

	w := api.do(t, http.MethodGet, "/messages/"+msg.ID+"/interactions", ada, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var agg chat.Interactions
	if err := json.Unmarshal(w.Body.Bytes(), &agg); err != nil {
		t.Fatalf("decode interactions: %v", err)
	}
	if agg.Message.ID != msg.ID || len(agg.Likes) != 1 || len(agg.Comments) != 0 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}

	w = api.do(t, http.MethodGet, "/messages/missing/interactions", ada, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
