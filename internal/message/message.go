package message

import (
	"context"
	"time"

	"github.com/campuslink/campuslink/internal/user"
)

type ID string

// Message is immutable once persisted. The timestamp is assigned by the
// server at persistence time and orders the conversation.
type Message struct {
	ID         ID
	SenderID   user.ID
	ReceiverID user.ID
	Content    string
	SentAt     time.Time
}

type Repository interface {
	Save(ctx context.Context, msg Message) error
	// ListConversation returns messages exchanged between the unordered pair
	// {a, b}, newest first, skipping skip rows and returning at most take.
	ListConversation(ctx context.Context, a, b user.ID, skip, take int) ([]Message, error)
	// ListPartners returns the distinct set of users the given user has
	// exchanged messages with, in store order.
	ListPartners(ctx context.Context, userID user.ID) ([]user.ID, error)
	// ListRecentForUser returns the newest messages sent to or by the user.
	ListRecentForUser(ctx context.Context, userID user.ID, limit int) ([]Message, error)
}
