// Package repository declares the storage interfaces the services depend on.
// internal/repository/sqlite provides the implementation.
package repository

import (
	"context"
	"time"

	"github.com/sakif/auth-service/internal/model"
)

// UserRepository persists users.
//
// Lookups return an apperror.ErrNotFound error when no row matches. Writes
// that would break a UNIQUE index return apperror.ErrConflict with Field set
// to the offending column.
type UserRepository interface {
	// Create inserts user and fills in ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, user *model.User) error

	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByProviderID(ctx context.Context, provider, providerUserID string) (*model.User, error)
	GetByFacebookID(ctx context.Context, facebookID string) (*model.User, error)

	// UpdateProfile overwrites first name, last name and picture.
	UpdateProfile(ctx context.Context, id int64, p model.Profile) error

	// LinkIdentity attaches an external identity to an existing account and
	// refreshes the profile, following model.User.LinkIdentity: a facebook
	// id goes to facebook_id and keeps an existing (provider,
	// provider_user_id) pair intact; any other id goes to provider_user_id.
	LinkIdentity(ctx context.Context, id int64, provider, providerUserID string, p model.Profile) error

	// SetResetToken replaces any pending reset with (hash, expires).
	SetResetToken(ctx context.Context, id int64, hash string, expires time.Time) error
	ClearResetToken(ctx context.Context, id int64) error

	// CompleteReset sets the new password hash and clears the reset pair in
	// one statement, but only while the stored hash still equals
	// expectedHash. Returns ErrNotFound when it does not.
	CompleteReset(ctx context.Context, id int64, expectedHash, newPasswordHash string) error
}
