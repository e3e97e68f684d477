// Package user holds the campus account identity that relationships and
// messages hang off of.
package user

import (
	"context"
	"time"
)

// ID is the stable account identifier carried in sessions, relationship
// edges, and message rows.
type ID string

type User struct {
	ID           ID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Repository is the persistence contract for accounts. Usernames are
// stored normalized (lowercased, trimmed) and unique.
type Repository interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id ID) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}
