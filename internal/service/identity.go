package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/repository"
)

// IdentityService turns an external OAuth identity into a local account.
//
// RESOLUTION ORDER (first hit wins):
//  1. Provider identity: facebook_id for Facebook, (provider,
//     provider_user_id) for everyone else. The profile is refreshed.
//  2. Email: the identity is linked onto the existing account, which keeps
//     its password if it has one.
//  3. Nothing: a passwordless account is created.
//
// Step 2 trusts the provider's assertion that the email belongs to the
// caller; there is no separate ownership check.
type IdentityService struct {
	users     repository.UserRepository
	providers *auth.Registry
	tokens    *auth.TokenService
	logger    *slog.Logger

	// usernameRequired lists providers whose new accounts get a derived
	// username. Accounts from other providers keep a NULL username.
	usernameRequired map[string]bool
}

func NewIdentityService(
	users repository.UserRepository,
	providers *auth.Registry,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		users:            users,
		providers:        providers,
		tokens:           tokens,
		logger:           logger,
		usernameRequired: map[string]bool{model.ProviderFacebook: true},
	}
}

// AuthCodeURL returns the provider consent URL carrying state.
func (s *IdentityService) AuthCodeURL(provider, state string) (string, error) {
	return s.providers.AuthCodeURL(provider, state)
}

// Login exchanges code at provider, reconciles the identity and issues an
// access token. The subject is the username for providers that derive one
// and the email otherwise.
func (s *IdentityService) Login(ctx context.Context, provider, code string) (*AuthResult, error) {
	identity, err := s.providers.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	user, err := s.Reconcile(ctx, identity)
	if err != nil {
		return nil, err
	}

	subject := user.Email
	if s.usernameRequired[provider] && user.Username != nil {
		subject = *user.Username
	}

	token, err := s.tokens.IssueAccess(subject)
	if err != nil {
		return nil, fmt.Errorf("service/identity: issuing token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user authenticated via OAuth",
		slog.String("provider", provider),
		slog.Int64("userID", user.ID),
	)
	return &AuthResult{User: user, Token: token}, nil
}

// Reconcile resolves identity to exactly one local user.
func (s *IdentityService) Reconcile(ctx context.Context, identity *auth.Identity) (*model.User, error) {
	if identity == nil || identity.Provider == "" || identity.ProviderUserID == "" {
		return nil, apperror.OAuthFailed("Provider returned no user id", nil)
	}

	user, err := s.matchAndRefresh(ctx, identity)
	if err != nil || user != nil {
		return user, err
	}

	user, err = s.create(ctx, identity)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, err
	}

	// A concurrent callback for the same identity won the insert. Resolve
	// again against the row it wrote.
	user, rerr := s.matchAndRefresh(ctx, identity)
	if rerr != nil {
		return nil, rerr
	}
	if user == nil {
		return nil, err
	}
	return user, nil
}

// matchAndRefresh runs steps 1 and 2. It returns (nil, nil) when neither
// matches.
func (s *IdentityService) matchAndRefresh(ctx context.Context, identity *auth.Identity) (*model.User, error) {
	profile := profileOf(identity)

	user, err := s.byProviderIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user != nil {
		if err := s.users.UpdateProfile(ctx, user.ID, profile); err != nil {
			return nil, fmt.Errorf("service/identity: refreshing profile of user %d: %w", user.ID, err)
		}
		applyProfile(user, profile)
		return user, nil
	}

	if identity.Email == "" {
		return nil, nil
	}
	user, err = s.users.GetByEmail(ctx, identity.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: looking up email: %w", err)
	}

	if err := s.users.LinkIdentity(ctx, user.ID, identity.Provider, identity.ProviderUserID, profile); err != nil {
		return nil, fmt.Errorf("service/identity: linking %s to user %d: %w", identity.Provider, user.ID, err)
	}
	user.LinkIdentity(identity.Provider, identity.ProviderUserID)
	applyProfile(user, profile)

	s.logger.Info("linked external identity to existing account",
		slog.String("provider", identity.Provider),
		slog.Int64("userID", user.ID),
	)
	return user, nil
}

func (s *IdentityService) byProviderIdentity(ctx context.Context, identity *auth.Identity) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if identity.Provider == model.ProviderFacebook {
		user, err = s.users.GetByFacebookID(ctx, identity.ProviderUserID)
	} else {
		user, err = s.users.GetByProviderID(ctx, identity.Provider, identity.ProviderUserID)
	}
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: looking up %s identity: %w", identity.Provider, err)
	}
	return user, nil
}

func (s *IdentityService) create(ctx context.Context, identity *auth.Identity) (*model.User, error) {
	email := identity.Email
	if email == "" {
		email = identity.ProviderUserID + "@" + identity.Provider + ".com"
	}

	profile := profileOf(identity)
	user := &model.User{
		Email:      email,
		Provider:   model.StringPtr(identity.Provider),
		FirstName:  profile.FirstName,
		LastName:   profile.LastName,
		PictureURL: profile.PictureURL,
	}
	if identity.Provider == model.ProviderFacebook {
		user.FacebookID = model.StringPtr(identity.ProviderUserID)
	} else {
		user.ProviderUserID = model.StringPtr(identity.ProviderUserID)
	}

	if s.usernameRequired[identity.Provider] {
		username, err := s.deriveUsername(ctx, identity)
		if err != nil {
			return nil, err
		}
		user.Username = &username
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/identity: creating %s user: %w", identity.Provider, err)
	}

	s.logger.Info("created account from external identity",
		slog.String("provider", identity.Provider),
		slog.Int64("userID", user.ID),
	)
	return user, nil
}

// deriveUsername picks the email local part, or <provider>_<id> without an
// email. If that is taken, "_" plus the first 8 characters of the external
// id is appended.
func (s *IdentityService) deriveUsername(ctx context.Context, identity *auth.Identity) (string, error) {
	base := identity.Provider + "_" + identity.ProviderUserID
	if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
		base = local
	}

	_, err := s.users.GetByUsername(ctx, base)
	if errors.Is(err, apperror.ErrNotFound) {
		return base, nil
	}
	if err != nil {
		return "", fmt.Errorf("service/identity: checking username %q: %w", base, err)
	}

	suffix := identity.ProviderUserID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "_" + suffix, nil
}

func profileOf(identity *auth.Identity) model.Profile {
	return model.Profile{
		FirstName:  model.StringPtr(identity.FirstName),
		LastName:   model.StringPtr(identity.LastName),
		PictureURL: model.StringPtr(identity.PictureURL),
	}
}

func applyProfile(user *model.User, p model.Profile) {
	user.FirstName = p.FirstName
	user.LastName = p.LastName
	user.PictureURL = p.PictureURL
}
