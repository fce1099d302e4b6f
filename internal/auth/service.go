package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/parley/chat-app/internal/chat"
)

const (
	minPasswordLen  = 8
	maxPasswordLen  = 72 // bcrypt ignores anything longer
	maxFirstNameLen = 100
)

// Service registers accounts and exchanges credentials for tokens.
type Service struct {
	users  chat.UserStore
	tokens *TokenService
}

// NewService wires account storage to the token issuer.
func NewService(users chat.UserStore, tokens *TokenService) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates an account and returns an access token for it. A second
// registration with the same email fails with chat.ErrConflict.
func (s *Service) Register(ctx context.Context, email, firstName, password string) (string, *chat.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	firstName = strings.TrimSpace(firstName)
	if firstName == "" || utf8.RuneCountInString(firstName) > maxFirstNameLen {
		return "", nil, fmt.Errorf("%w: first name must be 1-%d characters", chat.ErrValidation, maxFirstNameLen)
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return "", nil, fmt.Errorf("%w: password must be %d-%d bytes", chat.ErrValidation, minPasswordLen, maxPasswordLen)
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return "", nil, fmt.Errorf("%w: email already registered", chat.ErrConflict)
	} else if !errors.Is(err, chat.ErrNotFound) {
		return "", nil, fmt.Errorf("auth: lookup email: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", nil, err
	}

	// CreateUser enforces uniqueness too, for registrations that race.
	user, err := s.users.CreateUser(ctx, email, firstName, hash)
	if err != nil {
		return "", nil, fmt.Errorf("auth: create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Login checks the password for email and returns a fresh token. Unknown
// emails and wrong passwords both fail with chat.ErrAuth.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", fmt.Errorf("%w: invalid credentials", chat.ErrAuth)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid credentials", chat.ErrAuth)
		}
		return "", fmt.Errorf("auth: lookup email: %w", err)
	}

	if err := CheckPassword(user.PasswordHash, password); err != nil {
		return "", err
	}
	return s.tokens.Issue(user.ID)
}

// Authenticate verifies token and loads its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*chat.User, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", chat.ErrAuth)
		}
		return nil, err
	}
	return user, nil
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", fmt.Errorf("%w: invalid email", chat.ErrValidation)
	}
	return strings.ToLower(addr.Address), nil
}
