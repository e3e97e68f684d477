package notification

import (
	"context"
	"time"

	"github.com/campuslink/campuslink/internal/user"
)

type ID string

// Notification is the stored, user-visible record produced from a
// delivery event.
type Notification struct {
	ID        ID
	UserID    user.ID
	ActorID   user.ID
	Kind      string
	Body      string
	Read      bool
	CreatedAt time.Time
}

const KindNewMessage = "new_message"

type Repository interface {
	Save(ctx context.Context, n Notification) error
	ListUnread(ctx context.Context, userID user.ID, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id ID, userID user.ID) error
}
