package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap/zaptest"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/session"
	"github.com/parley/chat-app/internal/storage/memory"
	wsconn "github.com/parley/chat-app/internal/ws"
)

var errGone = errors.New("connection not found")

// fakePusher records pushes per connection. Connections listed in closed
// fail like a connection that went away mid-flight.
type fakePusher struct {
	mu     sync.Mutex
	sent   map[string][][]byte
	closed map[string]bool
}

func newFakePusher() *fakePusher {
	return &fakePusher{sent: make(map[string][][]byte), closed: make(map[string]bool)}
}

func (p *fakePusher) SendMessage(connID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed[connID] {
		return errGone
	}
	p.sent[connID] = append(p.sent[connID], append([]byte(nil), data...))
	return nil
}

func (p *fakePusher) events(t *testing.T, connID string) []map[string]json.RawMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []map[string]json.RawMessage
	for _, data := range p.sent[connID] {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (p *fakePusher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sent {
		n += len(s)
	}
	return n
}

func eventType(t *testing.T, m map[string]json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(m["type"], &s); err != nil {
		t.Fatalf("decode type: %v", err)
	}
	return s
}

// fakeVerifier accepts tokens of the form "token-<userID>".
type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (string, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return "", chat.ErrAuth
	}
	return token[len(prefix):], nil
}

type harness struct {
	store        *memory.Store
	sessions     *session.Registry
	rooms        *session.Rooms
	push         *fakePusher
	messages     *MessageRouter
	interactions *InteractionRouter
	lifecycle    *Lifecycle
	u1, u2       *chat.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		store:    memory.New(),
		sessions: session.NewRegistry(),
		rooms:    session.NewRooms(),
		push:     newFakePusher(),
	}
	h.messages = NewMessageRouter(h.store, h.sessions, h.push, time.Second, log)
	h.interactions = NewInteractionRouter(h.store, h.store, NewLocalBroadcaster(h.rooms, h.push, log), time.Second, log)
	h.lifecycle = NewLifecycle(fakeVerifier{}, h.store, h.sessions, h.rooms, nil, log)

	ctx := context.Background()
	var err error
	if h.u1, err = h.store.CreateUser(ctx, "u1@example.com", "Ada", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if h.u2, err = h.store.CreateUser(ctx, "u2@example.com", "Bob", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return h
}

// recConn is a net.Conn that records everything written to it.
type recConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *recConn) Read([]byte) (int, error) { return 0, net.ErrClosed }
func (c *recConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}
func (c *recConn) Close() error                     { return nil }
func (c *recConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *recConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *recConn) SetDeadline(time.Time) error      { return nil }
func (c *recConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recConn) SetWriteDeadline(time.Time) error { return nil }

// frames decodes the server frames written so far.
func (c *recConn) frames(t *testing.T) []map[string]json.RawMessage {
	t.Helper()
	c.mu.Lock()
	r := bytes.NewReader(append([]byte(nil), c.buf.Bytes()...))
	c.mu.Unlock()

	var out []map[string]json.RawMessage
	for r.Len() > 0 {
		frame, err := ws.ReadFrame(r)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(frame.Payload, &m); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func newConn(id, subject string) (*wsconn.Connection, *recConn) {
	rc := &recConn{}
	return &wsconn.Connection{ID: id, SubjectID: subject, Conn: rc, Fd: -1}, rc
}
