// Package chat holds the direct-message domain: users, two-party conversations,
// messages and the likes and comments attached to them. It defines the
// collaborator interfaces the gateway depends on and the error taxonomy shared
// by every layer.
package chat

import "time"

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Participant is the public identity of a conversation member or message sender.
type Participant struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
}

// Conversation is a durable thread between exactly two users. Messages is
// ordered oldest first; listings only carry the latest message.
type Conversation struct {
	ID           string         `json:"id"`
	Participants [2]Participant `json:"participants"`
	Messages     []Message      `json:"messages"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the two members.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0].ID == userID || c.Participants[1].ID == userID
}

// Message is an immutable text message inside a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Like records that a user liked a message. The same user may like a message
// more than once.
type Like struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Comment is a short text attached to a message.
type Comment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Interactions is the full interaction state of one message.
type Interactions struct {
	Message  Message   `json:"message"`
	Likes    []Like    `json:"likes"`
	Comments []Comment `json:"comments"`
}
