package relationship

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/campuslink/campuslink/internal/user"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("relationship not found")
	ErrAlreadyExists = errors.New("relationship already exists")
	ErrNotRecipient  = errors.New("only the recipient can respond")
	ErrNotPending    = errors.New("relationship is not pending")
)

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

// Request creates a pending edge from requester to recipient. A pair that
// already has a record in either direction cannot request again.
func (s *Service) Request(ctx context.Context, requesterID, recipientID user.ID) (Relationship, error) {
	if s.repo == nil {
		return Relationship{}, errors.New("repository is required")
	}
	if requesterID == "" || recipientID == "" || requesterID == recipientID {
		return Relationship{}, ErrInvalidInput
	}

	_, err := s.repo.GetByPair(ctx, requesterID, recipientID)
	if err == nil {
		return Relationship{}, ErrAlreadyExists
	}
	if !errors.Is(err, ErrNotFound) {
		return Relationship{}, err
	}

	rel := Relationship{
		ID:          s.idGen(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		Status:      StatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, rel); err != nil {
		return Relationship{}, err
	}
	return rel, nil
}

// Respond accepts or rejects a pending request. Only the recipient may
// respond; a request that has already been resolved stays resolved.
func (s *Service) Respond(ctx context.Context, id ID, responderID user.ID, accept bool) (Relationship, error) {
	if s.repo == nil {
		return Relationship{}, errors.New("repository is required")
	}
	if id == "" || responderID == "" {
		return Relationship{}, ErrInvalidInput
	}

	rel, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Relationship{}, err
	}
	if rel.RecipientID != responderID {
		return Relationship{}, ErrNotRecipient
	}
	if rel.Status != StatusPending {
		return Relationship{}, ErrNotPending
	}

	status := StatusRejected
	if accept {
		status = StatusAccepted
	}
	if err := s.repo.UpdateStatus(ctx, rel.ID, status); err != nil {
		return Relationship{}, err
	}
	rel.Status = status
	return rel, nil
}

// Block marks the edge between the two users as blocked. Either party may
// block; a missing edge is created directly in the blocked state.
func (s *Service) Block(ctx context.Context, blockerID, otherID user.ID) (Relationship, error) {
	if s.repo == nil {
		return Relationship{}, errors.New("repository is required")
	}
	if blockerID == "" || otherID == "" || blockerID == otherID {
		return Relationship{}, ErrInvalidInput
	}

	rel, err := s.repo.GetByPair(ctx, blockerID, otherID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Relationship{}, err
		}
		rel = Relationship{
			ID:          s.idGen(),
			RequesterID: blockerID,
			RecipientID: otherID,
			Status:      StatusBlocked,
			CreatedAt:   s.now().UTC(),
		}
		if err := s.repo.Create(ctx, rel); err != nil {
			return Relationship{}, err
		}
		return rel, nil
	}

	if rel.Status == StatusBlocked {
		return rel, nil
	}
	if err := s.repo.UpdateStatus(ctx, rel.ID, StatusBlocked); err != nil {
		return Relationship{}, err
	}
	rel.Status = StatusBlocked
	return rel, nil
}

// IsConnected reports whether the unordered pair {a, b} holds an accepted
// relationship. This is the authorization gate for messaging.
func (s *Service) IsConnected(ctx context.Context, a, b user.ID) (bool, error) {
	if s.repo == nil {
		return false, errors.New("repository is required")
	}
	if a == "" || b == "" {
		return false, ErrInvalidInput
	}
	rel, err := s.repo.GetByPair(ctx, a, b)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rel.Status == StatusAccepted, nil
}

// Connections returns the ids of every user the given user holds an
// accepted relationship with.
func (s *Service) Connections(ctx context.Context, userID user.ID) ([]user.ID, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	rels, err := s.repo.ListByUser(ctx, userID, StatusAccepted)
	if err != nil {
		return nil, err
	}
	peers := make([]user.ID, 0, len(rels))
	for _, rel := range rels {
		peers = append(peers, rel.Other(userID))
	}
	return peers, nil
}

// Pending returns requests awaiting a response from the given user.
func (s *Service) Pending(ctx context.Context, userID user.ID) ([]Relationship, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if userID == "" {
		return nil, ErrInvalidInput
	}
	rels, err := s.repo.ListByUser(ctx, userID, StatusPending)
	if err != nil {
		return nil, err
	}
	incoming := rels[:0]
	for _, rel := range rels {
		if rel.RecipientID == userID {
			incoming = append(incoming, rel)
		}
	}
	return incoming, nil
}

// Other returns the member of the pair that is not the given user.
func (r Relationship) Other(userID user.ID) user.ID {
	if r.RequesterID == userID {
		return r.RecipientID
	}
	return r.RequesterID
}
