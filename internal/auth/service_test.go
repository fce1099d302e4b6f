package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parley/chat-app/internal/chat"
	"github.com/parley/chat-app/internal/storage/memory"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, NewTokenService([]byte("secret"), time.Hour)), store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	token, user, err := svc.Register(ctx, "Ada@Example.com", " Ada ", "correct horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "ada@example.com" || user.FirstName != "Ada" {
		t.Errorf("unexpected user: %+v", user)
	}
	stored, _ := store.GetUser(ctx, user.ID)
	if stored.PasswordHash == "correct horse" || !strings.HasPrefix(stored.PasswordHash, "$2") {
		t.Errorf("expected a bcrypt hash to be stored, got %q", stored.PasswordHash)
	}

	authed, err := svc.Authenticate(ctx, token)
	if err != nil || authed.ID != user.ID {
		t.Fatalf("Authenticate: user=%v err=%v", authed, err)
	}

	loginToken, err := svc.Login(ctx, "ada@example.com", "correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.Authenticate(ctx, loginToken); err != nil {
		t.Fatalf("Authenticate login token: %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "ada@example.com", "Ada", "password1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _, err := svc.Register(ctx, "ADA@example.com", "Ada", "password2")
	if !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name, email, firstName, password string
	}{
		{"bad email", "not-an-email", "Ada", "password1"},
		{"display name email", "Ada <ada@example.com>", "Ada", "password1"},
		{"empty name", "ada@example.com", "  ", "password1"},
		{"short password", "ada@example.com", "Ada", "short"},
		{"long password", "ada@example.com", "Ada", strings.Repeat("p", 73)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tt.email, tt.firstName, tt.password)
			if !errors.Is(err, chat.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLoginFailures(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	svc.Register(ctx, "ada@example.com", "Ada", "password1")

	for _, tc := range []struct{ email, password string }{
		{"ada@example.com", "wrong-password"},
		{"nobody@example.com", "password1"},
		{"garbage", "password1"},
	} {
		if _, err := svc.Login(ctx, tc.email, tc.password); !errors.Is(err, chat.ErrAuth) {
			t.Errorf("Login(%q): expected ErrAuth, got %v", tc.email, err)
		}
	}
}

func TestAuthenticateUnknownSubject(t *testing.T) {
	svc, _ := newTestService()
	token, _ := svc.tokens.Issue("ghost")

	if _, err := svc.Authenticate(context.Background(), token); !errors.Is(err, chat.ErrAuth) {
		t.Fatalf("expected ErrAuth for unknown subject, got %v", err)
	}
}
