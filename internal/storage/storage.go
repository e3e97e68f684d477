package storage

import (
	"context"
	"errors"

	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/notification"
	"github.com/campuslink/campuslink/internal/relationship"
	"github.com/campuslink/campuslink/internal/user"
)

var ErrNotFound = errors.New("not found")

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Users() user.Repository
	Relationships() relationship.Repository
	Messages() message.Repository
	Notifications() notification.Repository
}
