package relationship

import (
	"context"
	"time"

	"github.com/campuslink/campuslink/internal/user"
)

type ID string

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusBlocked  Status = "BLOCKED"
)

// Relationship is the social-graph edge between two users. At most one
// record exists per unordered user pair; the pair is connected for
// messaging purposes only while the status is ACCEPTED, regardless of
// which side initiated the request.
type Relationship struct {
	ID          ID
	RequesterID user.ID
	RecipientID user.ID
	Status      Status
	CreatedAt   time.Time
}

type Repository interface {
	Create(ctx context.Context, rel Relationship) error
	GetByID(ctx context.Context, id ID) (Relationship, error)
	// GetByPair returns the record for the unordered pair {a, b}, whichever
	// side initiated it.
	GetByPair(ctx context.Context, a, b user.ID) (Relationship, error)
	UpdateStatus(ctx context.Context, id ID, status Status) error
	ListByUser(ctx context.Context, userID user.ID, status Status) ([]Relationship, error)
}
