// Package service holds the account, OAuth identity and password reset logic.
//
// The services sit between the HTTP handlers and the repository/auth
// utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenService (JWT), PasswordService (bcrypt)
//
// KEY RESPONSIBILITIES:
//   - Register and log in password accounts (AuthService)
//   - Reconcile OAuth identities with local accounts (IdentityService)
//   - Run the forgot/reset password flow (PasswordResetService)
//
// Nothing here reads HTTP requests or writes responses. Failures come back
// as apperror classes and the handler layer maps them to status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/repository"
)

// Messages shown to clients. Login failures share one message whatever the
// cause, so a caller cannot learn which usernames exist.
const (
	msgBadCredentials     = "Incorrect username or password"
	msgUsernameRegistered = "Username already registered"
	msgEmailRegistered    = "Email already registered"
	msgBadBearer          = "Could not validate credentials"
	msgUserNotFound       = "User not found"
)

// AuthService handles password registration, login and bearer resolution.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository  → read/write user records
//   - tokens     *auth.TokenService         → issue access JWTs
//   - passwords  *auth.PasswordService      → bcrypt hashing
//   - logger     *slog.Logger               → structured logging
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	logger    *slog.Logger

	dummyOnce sync.Once
	dummy     string
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		logger:    logger,
	}
}

// AuthResult bundles the user record and the issued access token so the
// handler can respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// Register creates a local password account.
//
// The username check runs before the email check, so a request colliding on
// both reports the username. The pre-checks only give friendly errors: two
// racing registrations both pass them, and the loser gets the same conflict
// from the UNIQUE index instead.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if err := ensureAbsent(ctx, s.users.GetByUsername, username); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("username", msgUsernameRegistered)
		}
		return nil, fmt.Errorf("service/auth: checking username: %w", err)
	}
	if err := ensureAbsent(ctx, s.users.GetByEmail, email); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("email", msgEmailRegistered)
		}
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}

	hashed, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password must be at most 72 bytes")
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:       &username,
		Email:          email,
		HashedPassword: &hashed,
		Provider:       model.StringPtr(model.ProviderLocal),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user %q: %w", username, err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", username),
	)
	return user, nil
}

// Login checks a username/password pair and issues an access token whose
// subject is the account email.
//
// Unknown username, passwordless (OAuth-only) account and wrong password
// all return the same Unauthenticated error. A bcrypt comparison runs in
// every case so response time does not reveal which one happened.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up %q: %w", username, err)
	}

	if user == nil || !user.HasPassword() {
		s.passwords.Verify(password, s.dummyHash())
		return nil, apperror.Unauthenticated(msgBadCredentials)
	}
	if !s.passwords.Verify(password, *user.HashedPassword) {
		return nil, apperror.Unauthenticated(msgBadCredentials)
	}

	token, err := s.tokens.IssueAccess(user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user logged in", slog.Int64("userID", user.ID))
	return &AuthResult{User: user, Token: token}, nil
}

// CurrentUser resolves a validated access-token subject to its account.
// Password and Google logins put the email in the subject, Facebook logins
// the username, so the email is tried first.
func (s *AuthService) CurrentUser(ctx context.Context, subject string) (*model.User, error) {
	if subject == "" {
		return nil, apperror.Unauthorized(msgBadBearer)
	}

	user, err := s.users.GetByEmail(ctx, subject)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: resolving subject: %w", err)
	}

	// Usernames never contain '@', so an email-shaped subject stops here.
	if strings.Contains(subject, "@") {
		return nil, apperror.Unauthorized(msgUserNotFound)
	}

	user, err = s.users.GetByUsername(ctx, subject)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(msgUserNotFound)
		}
		return nil, fmt.Errorf("service/auth: resolving subject: %w", err)
	}
	return user, nil
}

// dummyHash is a digest of a fixed string, compared against to equalize Login
// timing for accounts without a password.
func (s *AuthService) dummyHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash("dummy-password-for-timing")
		if err == nil {
			s.dummy = h
		}
	})
	return s.dummy
}

// ensureAbsent returns a Conflict when lookup finds a row, nil on NotFound,
// and any other lookup error unchanged.
func ensureAbsent(ctx context.Context, lookup func(context.Context, string) (*model.User, error), key string) error {
	_, err := lookup(ctx, key)
	switch {
	case err == nil:
		return apperror.Conflict("", "already exists")
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	default:
		return err
	}
}
