package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campuslink/campuslink/internal/message"
	"github.com/campuslink/campuslink/internal/user"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotAuthorized means the sender and receiver do not share an
	// accepted relationship. The message is never persisted.
	ErrNotAuthorized = errors.New("not connected")
)

const (
	defaultTake = 20
	maxTake     = 100
)

// Authorizer answers whether two users hold an accepted relationship.
type Authorizer interface {
	IsConnected(ctx context.Context, a, b user.ID) (bool, error)
}

// Notifier receives exactly one delivery event per persisted message.
type Notifier interface {
	MessageDelivered(ctx context.Context, msg message.Message)
}

// Pusher attempts delivery to the receiver's live session. Push is
// best-effort: a false return never affects the persisted message.
type Pusher interface {
	PushMessage(userID user.ID, msg message.Message) bool
}

// Service is the sole write path for messages. The relationship check
// happens before persistence on every send; two concurrent sends between
// an authorized pair simply produce two rows ordered by store timestamps.
type Service struct {
	repo     message.Repository
	rels     Authorizer
	notifier Notifier
	pusher   Pusher
	idGen    func() message.ID
	now      func() time.Time
}

func NewService(repo message.Repository, rels Authorizer) *Service {
	return &Service{
		repo: repo,
		rels: rels,
		idGen: func() message.ID {
			return message.ID(uuid.NewString())
		},
		now: time.Now,
	}
}

// SetNotifier registers the delivery-event sink. Optional.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetPusher registers the live-session push sink. Optional.
func (s *Service) SetPusher(p Pusher) { s.pusher = p }

// SendMessage validates, authorizes, and persists one message. No dedup
// key is modeled: a caller that retries after a transient store failure
// may produce a duplicate row.
func (s *Service) SendMessage(ctx context.Context, senderID, receiverID user.ID, content string) (message.Message, error) {
	if s.repo == nil || s.rels == nil {
		return message.Message{}, errors.New("repository and authorizer are required")
	}

	content = strings.TrimSpace(content)
	if senderID == "" || receiverID == "" || content == "" || senderID == receiverID {
		return message.Message{}, ErrInvalidInput
	}

	connected, err := s.rels.IsConnected(ctx, senderID, receiverID)
	if err != nil {
		return message.Message{}, fmt.Errorf("check relationship: %w", err)
	}
	if !connected {
		return message.Message{}, ErrNotAuthorized
	}

	msg := message.Message{
		ID:         s.idGen(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		SentAt:     s.now().UTC(),
	}
	if err := s.repo.Save(ctx, msg); err != nil {
		return message.Message{}, fmt.Errorf("save message: %w", err)
	}

	if s.notifier != nil {
		s.notifier.MessageDelivered(ctx, msg)
	}
	if s.pusher != nil {
		_ = s.pusher.PushMessage(receiverID, msg)
	}
	return msg, nil
}

// GetConversation returns the dyad's history newest first. The
// relationship is deliberately not re-checked: history stays visible to
// its participants even after the relationship is revoked or blocked.
func (s *Service) GetConversation(ctx context.Context, userID, otherID user.ID, skip, take int) ([]message.Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" || otherID == "" {
		return nil, ErrInvalidInput
	}
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultTake
	}
	if take > maxTake {
		take = maxTake
	}
	return s.repo.ListConversation(ctx, userID, otherID, skip, take)
}

// GetAllConversations returns the distinct users the given user has a
// conversation with, in store order.
func (s *Service) GetAllConversations(ctx context.Context, userID user.ID) ([]user.ID, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListPartners(ctx, userID)
}

// RecentMessages returns the newest messages involving the user.
func (s *Service) RecentMessages(ctx context.Context, userID user.ID, limit int) ([]message.Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = defaultTake
	}
	if limit > maxTake {
		limit = maxTake
	}
	return s.repo.ListRecentForUser(ctx, userID, limit)
}
