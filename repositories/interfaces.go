package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/stellarion/api/models"
)

var (
	// ErrProfileNotFound is returned when no profile exists for the id
	ErrProfileNotFound = errors.New("profile not found")

	// ErrCorruptProfile is returned when a stored profile cannot be decoded or carries an unknown role
	ErrCorruptProfile = errors.New("corrupt profile")
)

// ProfileCache is the local key-value side-channel keyed by user id.
// It caches the profile between sessions and is written on every mutation.
type ProfileCache interface {
	// Get returns the cached profile, or (nil, nil) on a miss.
	// Undecodable data is reported as ErrCorruptProfile.
	Get(ctx context.Context, userID string) (*models.UserProfile, error)

	// Put stores the full profile
	Put(ctx context.Context, profile *models.UserProfile) error

	// Delete removes the cached profile
	Delete(ctx context.Context, userID string) error

	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}

// ProfileReader reads the remote system of record.
type ProfileReader interface {
	// GetByID returns ErrProfileNotFound when the id is unknown
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
}

// ProfileRepository is the PostgreSQL system of record for profiles.
type ProfileRepository interface {
	ProfileReader

	// Upsert writes the profile unless the stored row was written at a later syncedAt.
	// It reports whether the row was written.
	Upsert(ctx context.Context, profile *models.UserProfile, syncedAt time.Time) (bool, error)

	// ListByRole returns active profiles holding role, newest login first
	ListByRole(ctx context.Context, role string, limit int) ([]*models.UserProfile, error)

	// CountByRole returns the number of profiles per role
	CountByRole(ctx context.Context) (map[string]int, error)
}
