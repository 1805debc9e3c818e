package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the SQLite user repository. Obtain one from DB.Users.
type UserDB struct {
	conn *sql.DB
	now  func() time.Time
}

const userColumns = `id, username, email, hashed_password, provider, provider_user_id,
	facebook_id, first_name, last_name, picture_url, reset_token_hash,
	reset_token_expires, created_at, updated_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.HashedPassword,
		&u.Provider,
		&u.ProviderUserID,
		&u.FacebookID,
		&u.FirstName,
		&u.LastName,
		&u.PictureURL,
		&u.ResetTokenHash,
		&u.ResetTokenExpires,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user. The generated id and timestamps are written
// back into user.
//
// There is no existence check here: the UNIQUE indexes decide, and a
// violation comes back as an apperror.ErrConflict naming the column.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	now := u.now().UTC()

	res, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (username, email, hashed_password, provider, provider_user_id,
			facebook_id, first_name, last_name, picture_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.Username,
		user.Email,
		user.HashedPassword,
		user.Provider,
		user.ProviderUserID,
		user.FacebookID,
		user.FirstName,
		user.LastName,
		user.PictureURL,
		now,
		now,
	)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: inserting user (email=%s): %w", user.Email, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading inserted user id: %w", err)
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return u.getOne(ctx, "id = ?", strconv.FormatInt(id, 10), id)
}

func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return u.getOne(ctx, "username = ?", username, username)
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getOne(ctx, "email = ?", email, email)
}

func (u *UserDB) GetByProviderID(ctx context.Context, provider, providerUserID string) (*model.User, error) {
	return u.getOne(ctx, "provider = ? AND provider_user_id = ?",
		provider+":"+providerUserID, provider, providerUserID)
}

func (u *UserDB) GetByFacebookID(ctx context.Context, facebookID string) (*model.User, error) {
	return u.getOne(ctx, "facebook_id = ?", facebookID, facebookID)
}

// getOne runs a single-row lookup. key only labels the NotFound error.
func (u *UserDB) getOne(ctx context.Context, where, key string, args ...any) (*model.User, error) {
	row := u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, args...)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user (%s): %w", where, err)
	}
	return user, nil
}

func (u *UserDB) UpdateProfile(ctx context.Context, id int64, p model.Profile) error {
	return u.execOne(ctx, id, "updating profile",
		`UPDATE users SET first_name = ?, last_name = ?, picture_url = ?, updated_at = ?
		 WHERE id = ?`,
		p.FirstName, p.LastName, p.PictureURL, u.now().UTC(), id,
	)
}

func (u *UserDB) LinkIdentity(ctx context.Context, id int64, provider, providerUserID string, p model.Profile) error {
	query := `UPDATE users SET provider = ?, provider_user_id = ?,
		first_name = ?, last_name = ?, picture_url = ?, updated_at = ? WHERE id = ?`
	if provider == model.ProviderFacebook {
		query = `UPDATE users SET
		provider = CASE WHEN provider_user_id IS NULL THEN ? ELSE provider END,
		facebook_id = ?, first_name = ?, last_name = ?, picture_url = ?, updated_at = ? WHERE id = ?`
	}
	return u.execOne(ctx, id, "linking identity", query,
		provider, providerUserID, p.FirstName, p.LastName, p.PictureURL, u.now().UTC(), id,
	)
}

func (u *UserDB) SetResetToken(ctx context.Context, id int64, hash string, expires time.Time) error {
	return u.execOne(ctx, id, "setting reset token",
		`UPDATE users SET reset_token_hash = ?, reset_token_expires = ?, updated_at = ?
		 WHERE id = ?`,
		hash, expires.UTC(), u.now().UTC(), id,
	)
}

func (u *UserDB) ClearResetToken(ctx context.Context, id int64) error {
	return u.execOne(ctx, id, "clearing reset token",
		`UPDATE users SET reset_token_hash = NULL, reset_token_expires = NULL, updated_at = ?
		 WHERE id = ?`,
		u.now().UTC(), id,
	)
}

// CompleteReset is a compare-and-swap on reset_token_hash. Of two requests
// replaying the same token, only the first matches the WHERE clause.
func (u *UserDB) CompleteReset(ctx context.Context, id int64, expectedHash, newPasswordHash string) error {
	return u.execOne(ctx, id, "completing reset",
		`UPDATE users SET hashed_password = ?, reset_token_hash = NULL,
			reset_token_expires = NULL, updated_at = ?
		 WHERE id = ? AND reset_token_hash = ?`,
		newPasswordHash, u.now().UTC(), id, expectedHash,
	)
}

// execOne runs an UPDATE that must touch exactly one row.
func (u *UserDB) execOne(ctx context.Context, id int64, action, query string, args ...any) error {
	res, err := u.conn.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("sqlite: %s for user %d: %w", action, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s for user %d: checking rows affected: %w", action, id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

// uniqueConflict translates a UNIQUE violation into a domain conflict.
// SQLite names the failing columns in the message, e.g.
// "UNIQUE constraint failed: users.username". Returns nil for any other error.
func uniqueConflict(err error) *apperror.AppError {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return nil
	}

	msg := se.Error()
	switch {
	case strings.Contains(msg, "users.username"):
		return apperror.Conflict("username", "Username already registered")
	case strings.Contains(msg, "users.email"):
		return apperror.Conflict("email", "Email already registered")
	case strings.Contains(msg, "users.facebook_id"):
		return apperror.Conflict("facebook_id", "Facebook account already linked")
	case strings.Contains(msg, "users.provider_user_id"):
		return apperror.Conflict("provider_user_id", "External account already linked")
	default:
		return apperror.Conflict("", "Account already exists")
	}
}
