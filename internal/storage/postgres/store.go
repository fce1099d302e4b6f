// Package postgres implements chat.Store and chat.UserStore on PostgreSQL
// through database/sql and lib/pq. The schema ships as embedded
// golang-migrate migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/parley/chat-app/internal/chat"
)

// Store manages users, conversations, messages and interactions in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// orderedPair returns a and b so that the first sorts before the second,
// matching the conversations_pair_check constraint.
func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// CreateUser inserts an account. A duplicate email fails with chat.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, email, firstName, passwordHash string) (*chat.User, error) {
	const query = `
		INSERT INTO users (id, email, first_name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	u := &chat.User{
		ID:           uuid.New().String(),
		Email:        email,
		FirstName:    firstName,
		PasswordHash: passwordHash,
	}
	if err := s.db.QueryRowContext(ctx, query, u.ID, email, firstName, passwordHash).Scan(&u.CreatedAt); err != nil {
		return nil, mapErr("create user", err)
	}
	return u, nil
}

// GetUser implements chat.UserLookup.
func (s *Store) GetUser(ctx context.Context, id string) (*chat.User, error) {
	id, err := canonicalID("user", id)
	if err != nil {
		return nil, err
	}
	const query = `SELECT id, email, first_name, password_hash, created_at FROM users WHERE id = $1`
	return s.scanUser(ctx, "get user", query, id)
}

// GetUserByEmail looks an account up by email, case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*chat.User, error) {
	const query = `SELECT id, email, first_name, password_hash, created_at FROM users WHERE lower(email) = lower($1)`
	return s.scanUser(ctx, "get user by email", query, email)
}

func (s *Store) scanUser(ctx context.Context, op, query string, arg string) (*chat.User, error) {
	var u chat.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.FirstName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}

// FindConversationsForUser returns the user's conversations, most recently
// active first, each with only its latest message.
func (s *Store) FindConversationsForUser(ctx context.Context, userID string) ([]chat.Conversation, error) {
	userID, err := canonicalID("user", userID)
	if err != nil {
		return []chat.Conversation{}, nil
	}

	const query = `
		SELECT c.id, c.user_low, ul.first_name, c.user_high, uh.first_name, c.created_at, c.updated_at,
		       m.id, m.sender_id, us.first_name, m.content, m.created_at
		FROM conversations c
		JOIN users ul ON ul.id = c.user_low
		JOIN users uh ON uh.id = c.user_high
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY seq DESC
			LIMIT 1
		) m ON true
		LEFT JOIN users us ON us.id = m.sender_id
		WHERE c.user_low = $1 OR c.user_high = $1
		ORDER BY c.updated_at DESC, c.id`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapErr("find conversations", err)
	}
	defer rows.Close()

	convs := []chat.Conversation{}
	for rows.Next() {
		var (
			c          chat.Conversation
			msgID      sql.NullString
			senderID   sql.NullString
			senderName sql.NullString
			content    sql.NullString
			sentAt     sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.Participants[0].ID, &c.Participants[0].FirstName,
			&c.Participants[1].ID, &c.Participants[1].FirstName,
			&c.CreatedAt, &c.UpdatedAt,
			&msgID, &senderID, &senderName, &content, &sentAt,
		); err != nil {
			return nil, mapErr("scan conversation", err)
		}
		c.Messages = []chat.Message{}
		if msgID.Valid {
			c.Messages = append(c.Messages, chat.Message{
				ID:             msgID.String,
				ConversationID: c.ID,
				SenderID:       senderID.String,
				SenderName:     senderName.String,
				Content:        content.String,
				CreatedAt:      sentAt.Time,
			})
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate conversations", err)
	}
	return convs, nil
}

// CreateConversation returns the pair's conversation, creating it when absent.
// The unique (user_low, user_high) constraint makes concurrent creations for
// the same pair converge on one row.
func (s *Store) CreateConversation(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	if userA == userB {
		return nil, fmt.Errorf("postgres: create conversation: %w: participants must differ", chat.ErrValidation)
	}
	userA, err := canonicalID("user", userA)
	if err != nil {
		return nil, err
	}
	if userB, err = canonicalID("user", userB); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO conversations (id, user_low, user_high)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT conversations_pair_key
		DO UPDATE SET user_low = EXCLUDED.user_low
		RETURNING id`

	low, high := orderedPair(userA, userB)
	var id string
	if err := s.db.QueryRowContext(ctx, query, uuid.New().String(), low, high).Scan(&id); err != nil {
		return nil, mapErr("create conversation", err)
	}
	return s.conversationHeader(ctx, id)
}

// GetConversation returns the conversation with all messages, oldest first.
func (s *Store) GetConversation(ctx context.Context, id string) (*chat.Conversation, error) {
	id, err := canonicalID("conversation", id)
	if err != nil {
		return nil, err
	}
	c, err := s.conversationHeader(ctx, id)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT m.id, m.sender_id, u.first_name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.seq`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, mapErr("list messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := chat.Message{ConversationID: id}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt); err != nil {
			return nil, mapErr("scan message", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("iterate messages", err)
	}
	return c, nil
}

func (s *Store) conversationHeader(ctx context.Context, id string) (*chat.Conversation, error) {
	const query = `
		SELECT c.id, c.user_low, ul.first_name, c.user_high, uh.first_name, c.created_at, c.updated_at
		FROM conversations c
		JOIN users ul ON ul.id = c.user_low
		JOIN users uh ON uh.id = c.user_high
		WHERE c.id = $1`

	c := &chat.Conversation{Messages: []chat.Message{}}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Participants[0].ID, &c.Participants[0].FirstName,
		&c.Participants[1].ID, &c.Participants[1].FirstName,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr("get conversation", err)
	}
	return c, nil
}

// AppendMessage persists a message and bumps the conversation's updated_at in
// one transaction. The conversation row is locked so concurrent appends keep
// updated_at monotonic.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content string) (msg *chat.Message, err error) {
	conversationID, err = canonicalID("conversation", conversationID)
	if err != nil {
		return nil, err
	}
	parsed, perr := uuid.Parse(senderID)
	if perr != nil {
		return nil, fmt.Errorf("postgres: append message: %w: unknown sender", chat.ErrValidation)
	}
	senderID = parsed.String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapErr("begin append message", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var low, high string
	err = tx.QueryRowContext(ctx,
		`SELECT user_low, user_high FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&low, &high)
	if err != nil {
		return nil, mapErr("lock conversation", err)
	}

	var senderName string
	err = tx.QueryRowContext(ctx, `SELECT first_name FROM users WHERE id = $1`, senderID).Scan(&senderName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: append message: %w: unknown sender", chat.ErrValidation)
	}
	if err != nil {
		return nil, mapErr("lookup sender", err)
	}
	if senderID != low && senderID != high {
		return nil, fmt.Errorf("postgres: append message: %w: sender is not a participant", chat.ErrValidation)
	}

	m := &chat.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		m.ID, conversationID, senderID, content,
	).Scan(&m.CreatedAt)
	if err != nil {
		return nil, mapErr("insert message", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		conversationID, m.CreatedAt,
	); err != nil {
		return nil, mapErr("touch conversation", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, mapErr("commit append message", err)
	}
	return m, nil
}

// GetMessage returns a single message.
func (s *Store) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	id, err := canonicalID("message", id)
	if err != nil {
		return nil, err
	}
	return getMessage(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getMessage(ctx context.Context, q queryRower, id string) (*chat.Message, error) {
	const query = `
		SELECT m.id, m.conversation_id, m.sender_id, u.first_name, m.content, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`

	var m chat.Message
	err := q.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &m.CreatedAt,
	)
	if err != nil {
		return nil, mapErr("get message", err)
	}
	return &m, nil
}

// AppendLike records a like. Repeated likes by the same user are kept.
func (s *Store) AppendLike(ctx context.Context, messageID, userID string) (*chat.Like, error) {
	messageID, err := canonicalID("message", messageID)
	if err != nil {
		return nil, err
	}
	if userID, err = canonicalID("user", userID); err != nil {
		return nil, err
	}

	l := &chat.Like{ID: uuid.New().String(), MessageID: messageID, UserID: userID}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO likes (id, message_id, user_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		l.ID, messageID, userID,
	).Scan(&l.CreatedAt)
	if err != nil {
		return nil, mapErr("insert like", err)
	}
	return l, nil
}

// AppendComment records a comment.
func (s *Store) AppendComment(ctx context.Context, messageID, userID, content string) (*chat.Comment, error) {
	messageID, err := canonicalID("message", messageID)
	if err != nil {
		return nil, err
	}
	if userID, err = canonicalID("user", userID); err != nil {
		return nil, err
	}

	c := &chat.Comment{ID: uuid.New().String(), MessageID: messageID, UserID: userID, Content: content}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, message_id, user_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, messageID, userID, content,
	).Scan(&c.CreatedAt)
	if err != nil {
		return nil, mapErr("insert comment", err)
	}
	return c, nil
}

// GetInteractions returns the message with every like and comment, oldest
// first, read from a single snapshot.
func (s *Store) GetInteractions(ctx context.Context, messageID string) (out *chat.Interactions, err error) {
	messageID, err = canonicalID("message", messageID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, mapErr("begin interactions", err)
	}
	defer tx.Rollback()

	m, err := getMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	out = &chat.Interactions{Message: *m, Likes: []chat.Like{}, Comments: []chat.Comment{}}

	likeRows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, created_at FROM likes WHERE message_id = $1 ORDER BY seq`, messageID)
	if err != nil {
		return nil, mapErr("list likes", err)
	}
	for likeRows.Next() {
		l := chat.Like{MessageID: messageID}
		if err := likeRows.Scan(&l.ID, &l.UserID, &l.CreatedAt); err != nil {
			likeRows.Close()
			return nil, mapErr("scan like", err)
		}
		out.Likes = append(out.Likes, l)
	}
	likeRows.Close()
	if err := likeRows.Err(); err != nil {
		return nil, mapErr("iterate likes", err)
	}

	commentRows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, content, created_at FROM comments WHERE message_id = $1 ORDER BY seq`, messageID)
	if err != nil {
		return nil, mapErr("list comments", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		c := chat.Comment{MessageID: messageID}
		if err := commentRows.Scan(&c.ID, &c.UserID, &c.Content, &c.CreatedAt); err != nil {
			return nil, mapErr("scan comment", err)
		}
		out.Comments = append(out.Comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, mapErr("iterate comments", err)
	}
	return out, nil
}
