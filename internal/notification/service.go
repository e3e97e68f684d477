package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/securelog"
	"github.com/campuslink/campuslink/internal/user"
)

var ErrInvalidInput = errors.New("invalid input")

// Service turns delivery events into stored notifications. It is the
// chat service's Notifier; each persisted message produces at most one
// notification, and a failed write is logged rather than propagated so
// the send path is never rolled back by its notification side effect.
type Service struct {
	repo  Repository
	idGen func() ID
	now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		idGen: func() ID {
			return ID(uuid.NewString())
		},
		now: time.Now,
	}
}

func (s *Service) MessageDelivered(ctx context.Context, msg message.Message) {
	if s.repo == nil {
		return
	}
	n := Notification{
		ID:        s.idGen(),
		UserID:    msg.ReceiverID,
		ActorID:   msg.SenderID,
		Kind:      KindNewMessage,
		Body:      "You have a new message",
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Save(ctx, n); err != nil {
		securelog.Error("notification.save", err)
	}
}

func (s *Service) Unread(ctx context.Context, userID user.ID, limit int) ([]Notification, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListUnread(ctx, userID, limit)
}

func (s *Service) MarkRead(ctx context.Context, id ID, userID user.ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if id == "" || userID == "" {
		return ErrInvalidInput
	}
	return s.repo.MarkRead(ctx, id, userID)
}
