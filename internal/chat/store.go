package chat

import "context"

// UserLookup confirms that a subject identifier belongs to a live account.
// GetUser returns an error wrapping ErrNotFound when it does not.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// UserStore extends UserLookup with the account operations used by
// registration and login.
type UserStore interface {
	UserLookup
	CreateUser(ctx context.Context, email, firstName, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Store is durable storage for conversations, messages, likes and comments.
//
// Implementations enforce at most one conversation per unordered pair of
// users: CreateConversation returns the existing conversation when one is
// already present. Likes and comments are append-only and never deduplicated.
type Store interface {
	// FindConversationsForUser returns the user's conversations, most recently
	// active first, each carrying only its latest message.
	FindConversationsForUser(ctx context.Context, userID string) ([]Conversation, error)

	// CreateConversation fails with ErrNotFound if either user is missing.
	CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)

	// GetConversation returns the conversation with all messages, oldest first.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// AppendMessage fails with ErrNotFound when the conversation is gone and
	// ErrValidation when the sender is gone.
	AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)

	GetMessage(ctx context.Context, id string) (*Message, error)
	AppendLike(ctx context.Context, messageID, userID string) (*Like, error)
	AppendComment(ctx context.Context, messageID, userID, content string) (*Comment, error)
	GetInteractions(ctx context.Context, messageID string) (*Interactions, error)
}
