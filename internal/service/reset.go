package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/mail"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/repository"
)

// ForgotPasswordAck is returned for every forgot-password request that is
// not an OAuth-only disclosure, whether or not the email exists.
const ForgotPasswordAck = "If the email is registered, a password reset link has been sent"

const msgOAuthOnly = "This account uses social login and has no password. Sign in with your provider instead."

// ResetOptions configures PasswordResetService.
type ResetOptions struct {
	// DiscloseOAuthOnly makes Forgot report passwordless accounts with
	// ErrOAuthOnlyAccount. When false they get the generic acknowledgement.
	DiscloseOAuthOnly bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// PasswordResetService runs the two-step reset flow.
//
// A reset token is a signed JWT, so on its own it stays valid until exp.
// Its SHA-256 is therefore also stored on the user row: issuing a new token
// overwrites the old hash, and a completed reset clears it, which makes each
// token usable once.
type PasswordResetService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    mail.Mailer
	logger    *slog.Logger

	discloseOAuthOnly bool
	now               func() time.Time
}

func NewPasswordResetService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer mail.Mailer,
	logger *slog.Logger,
	opts ResetOptions,
) *PasswordResetService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PasswordResetService{
		users:             users,
		tokens:            tokens,
		passwords:         passwords,
		mailer:            mailer,
		logger:            logger,
		discloseOAuthOnly: opts.DiscloseOAuthOnly,
		now:               now,
	}
}

// Forgot issues a reset token for email and mails the link.
//
// Unknown emails succeed silently. If the mail cannot be sent the stored
// hash is cleared again, so no pending reset outlives a failed notice, and
// ErrDelivery is returned.
func (s *PasswordResetService) Forgot(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("service/reset: looking up email: %w", err)
	}

	if !user.HasPassword() {
		if s.discloseOAuthOnly {
			return apperror.OAuthOnlyAccount(msgOAuthOnly)
		}
		return nil
	}

	token, err := s.tokens.IssueReset(user.Email)
	if err != nil {
		return fmt.Errorf("service/reset: issuing reset token for user %d: %w", user.ID, err)
	}

	expires := s.now().Add(s.tokens.ResetTTL())
	if err := s.users.SetResetToken(ctx, user.ID, auth.HashResetToken(token), expires); err != nil {
		return fmt.Errorf("service/reset: storing reset token for user %d: %w", user.ID, err)
	}

	if err := s.mailer.SendPasswordReset(ctx, user.Email, token); err != nil {
		// The request context may be what failed the send; the rollback
		// must still run.
		if cerr := s.users.ClearResetToken(context.WithoutCancel(ctx), user.ID); cerr != nil {
			s.logger.Error("failed to roll back reset token",
				slog.Int64("userID", user.ID),
				slog.String("error", cerr.Error()),
			)
		}
		s.logger.Error("failed to send password reset email",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return apperror.DeliveryFailed("Failed to send password reset email", err)
	}

	s.logger.Info("password reset requested", slog.Int64("userID", user.ID))
	return nil
}

// Reset sets a new password if token passes both checks: the JWT must be a
// valid reset token, and its hash must equal the one stored for the subject
// with the stored expiry still ahead. Every failure is the same
// InvalidToken error.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) error {
	claims, err := s.tokens.ValidateReset(token)
	if err != nil {
		return apperror.InvalidToken()
	}

	user, err := s.users.GetByEmail(ctx, claims.Subject)
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.InvalidToken()
	}
	if err != nil {
		return fmt.Errorf("service/reset: looking up subject: %w", err)
	}

	if !pendingResetMatches(user, token, s.now()) {
		return apperror.InvalidToken()
	}

	hashed, err := s.passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperror.ValidationFailed("new_password", "Password must be at most 72 bytes")
		}
		return fmt.Errorf("service/reset: hashing password: %w", err)
	}

	err = s.users.CompleteReset(ctx, user.ID, *user.ResetTokenHash, hashed)
	if errors.Is(err, apperror.ErrNotFound) {
		// Another request consumed the token first.
		return apperror.InvalidToken()
	}
	if err != nil {
		return fmt.Errorf("service/reset: completing reset for user %d: %w", user.ID, err)
	}

	s.logger.Info("password reset completed", slog.Int64("userID", user.ID))

	if err := s.mailer.SendPasswordChanged(ctx, user.Email); err != nil {
		s.logger.Warn("failed to send password changed email",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func pendingResetMatches(user *model.User, token string, now time.Time) bool {
	if user.ResetTokenHash == nil || user.ResetTokenExpires == nil {
		return false
	}
	if !auth.ResetTokenMatches(token, *user.ResetTokenHash) {
		return false
	}
	return now.Before(*user.ResetTokenExpires)
}
