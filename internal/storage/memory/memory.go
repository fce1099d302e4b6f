// Package memory is an in-process implementation of chat.Store and
// chat.UserStore. It backs the gateway when no database is configured and is
// the store used by the gateway tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-app/internal/chat"
)

type conversation struct {
	id        string
	members   [2]string
	messages  []string // message IDs, oldest first
	createdAt time.Time
	updatedAt time.Time
	seq       uint64 // activity order; breaks UpdatedAt ties
}

// Store keeps every entity in maps guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	users   map[string]*chat.User
	byEmail map[string]string

	conversations map[string]*conversation
	pairs         map[[2]string]string

	messages map[string]*chat.Message
	likes    map[string][]chat.Like
	comments map[string][]chat.Comment

	seq   uint64
	now   func() time.Time
	newID func() string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[string]*chat.User),
		byEmail:       make(map[string]string),
		conversations: make(map[string]*conversation),
		pairs:         make(map[[2]string]string),
		messages:      make(map[string]*chat.Message),
		likes:         make(map[string][]chat.Like),
		comments:      make(map[string][]chat.Comment),
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// CreateUser stores a new account. Emails are unique, case-insensitively.
func (s *Store) CreateUser(_ context.Context, email, firstName, passwordHash string) (*chat.User, error) {
	key := strings.ToLower(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[key]; ok {
		return nil, fmt.Errorf("memory: create user %s: %w", email, chat.ErrConflict)
	}
	u := &chat.User{
		ID:           s.newID(),
		Email:        email,
		FirstName:    firstName,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	s.byEmail[key] = u.ID
	cp := *u
	return &cp, nil
}

// GetUser implements chat.UserLookup.
func (s *Store) GetUser(_ context.Context, id string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("memory: user %s: %w", id, chat.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail returns the account registered with email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("memory: user with email %s: %w", email, chat.ErrNotFound)
	}
	cp := *s.users[id]
	return &cp, nil
}

// FindConversationsForUser returns the user's conversations, most recently
// active first, each with only its latest message.
func (s *Store) FindConversationsForUser(_ context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*conversation
	for _, c := range s.conversations {
		if c.members[0] == userID || c.members[1] == userID {
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if !found[i].updatedAt.Equal(found[j].updatedAt) {
			return found[i].updatedAt.After(found[j].updatedAt)
		}
		return found[i].seq > found[j].seq
	})

	out := make([]chat.Conversation, 0, len(found))
	for _, c := range found {
		conv := s.view(c)
		if n := len(c.messages); n > 0 {
			conv.Messages = []chat.Message{*s.messages[c.messages[n-1]]}
		}
		out = append(out, conv)
	}
	return out, nil
}

// CreateConversation returns the existing conversation for the pair when
// there is one, otherwise creates it.
func (s *Store) CreateConversation(_ context.Context, userA, userB string) (*chat.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("memory: conversation with self: %w", chat.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{userA, userB} {
		if _, ok := s.users[id]; !ok {
			return nil, fmt.Errorf("memory: participant %s: %w", id, chat.ErrNotFound)
		}
	}

	key := pairKey(userA, userB)
	if id, ok := s.pairs[key]; ok {
		conv := s.view(s.conversations[id])
		return &conv, nil
	}

	now := s.now().UTC()
	s.seq++
	c := &conversation{
		id:        s.newID(),
		members:   [2]string{userA, userB},
		createdAt: now,
		updatedAt: now,
		seq:       s.seq,
	}
	s.conversations[c.id] = c
	s.pairs[key] = c.id

	conv := s.view(c)
	return &conv, nil
}

// GetConversation returns the conversation with all messages, oldest first.
func (s *Store) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("memory: conversation %s: %w", id, chat.ErrNotFound)
	}
	conv := s.view(c)
	conv.Messages = make([]chat.Message, 0, len(c.messages))
	for _, mid := range c.messages {
		conv.Messages = append(conv.Messages, *s.messages[mid])
	}
	return &conv, nil
}

// AppendMessage persists a message and bumps the conversation's activity.
func (s *Store) AppendMessage(_ context.Context, conversationID, senderID, content string) (*chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, fmt.Errorf("memory: conversation %s: %w", conversationID, chat.ErrNotFound)
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, fmt.Errorf("memory: sender %s: %w", senderID, chat.ErrValidation)
	}
	if c.members[0] != senderID && c.members[1] != senderID {
		return nil, fmt.Errorf("memory: sender %s not in conversation %s: %w", senderID, conversationID, chat.ErrValidation)
	}

	now := s.now().UTC()
	m := &chat.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     sender.FirstName,
		Content:        content,
		CreatedAt:      now,
	}
	s.messages[m.ID] = m
	c.messages = append(c.messages, m.ID)
	c.updatedAt = now
	s.seq++
	c.seq = s.seq

	cp := *m
	return &cp, nil
}

// GetMessage returns a single message.
func (s *Store) GetMessage(_ context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("memory: message %s: %w", id, chat.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

// AppendLike records a like. Repeated likes by the same user are kept.
func (s *Store) AppendLike(_ context.Context, messageID, userID string) (*chat.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInteraction(messageID, userID); err != nil {
		return nil, err
	}
	l := chat.Like{
		ID:        s.newID(),
		MessageID: messageID,
		UserID:    userID,
		CreatedAt: s.now().UTC(),
	}
	s.likes[messageID] = append(s.likes[messageID], l)
	return &l, nil
}

// AppendComment records a comment.
func (s *Store) AppendComment(_ context.Context, messageID, userID, content string) (*chat.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkInteraction(messageID, userID); err != nil {
		return nil, err
	}
	c := chat.Comment{
		ID:        s.newID(),
		MessageID: messageID,
		UserID:    userID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	s.comments[messageID] = append(s.comments[messageID], c)
	return &c, nil
}

// GetInteractions returns the message with every like and comment, oldest
// first. The slices are empty, not nil, when there are none.
func (s *Store) GetInteractions(_ context.Context, messageID string) (*chat.Interactions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("memory: message %s: %w", messageID, chat.ErrNotFound)
	}
	return &chat.Interactions{
		Message:  *m,
		Likes:    append([]chat.Like{}, s.likes[messageID]...),
		Comments: append([]chat.Comment{}, s.comments[messageID]...),
	}, nil
}

// checkInteraction requires s.mu to be held.
func (s *Store) checkInteraction(messageID, userID string) error {
	if _, ok := s.messages[messageID]; !ok {
		return fmt.Errorf("memory: message %s: %w", messageID, chat.ErrNotFound)
	}
	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("memory: user %s: %w", userID, chat.ErrNotFound)
	}
	return nil
}

// view builds the public shape of c without messages. Requires s.mu.
func (s *Store) view(c *conversation) chat.Conversation {
	conv := chat.Conversation{
		ID:        c.id,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
		Messages:  []chat.Message{},
	}
	for i, id := range c.members {
		conv.Participants[i] = chat.Participant{ID: id}
		if u, ok := s.users[id]; ok {
			conv.Participants[i].FirstName = u.FirstName
		}
	}
	return conv
}
