// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to accounts and their presence columns.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetPresence stamps status and last-seen for a user.
	SetPresence(ctx context.Context, id uuid.UUID, status string, lastSeen time.Time) error
}
