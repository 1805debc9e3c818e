package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/cache"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/service"
)

// Identities is the part of service.IdentityService the handlers use.
type Identities interface {
	AuthCodeURL(provider, state string) (string, error)
	Login(ctx context.Context, provider, code string) (*service.AuthResult, error)
}

// OAuthHandler runs the browser side of the authorization code flow.
//
// CSRF PROTECTION VIA STATE:
// Each login redirect carries a fresh random state which is also saved in
// the StateStore. The callback must present a state that is in the store;
// consuming it removes it, so a callback URL cannot be replayed.
type OAuthHandler struct {
	identities Identities
	states     cache.StateStore
	logger     *slog.Logger
}

func NewOAuthHandler(identities Identities, states cache.StateStore, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{identities: identities, states: states, logger: logger}
}

// HandleGoogleLogin redirects to Google's consent page.
//
// HTTP: GET /auth/google/login → 302
func (h *OAuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, model.ProviderGoogle)
}

// HandleFacebookLogin redirects to Facebook's login dialog.
//
// HTTP: GET /auth/facebook → 302
func (h *OAuthHandler) HandleFacebookLogin(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, model.ProviderFacebook)
}

// HandleGoogleCallback completes a Google login.
//
// HTTP: GET /auth/google/callback?code=...&state=...
//
// The state is mandatory: a missing, unknown or already used value fails
// with 400 before the code is exchanged.
func (h *OAuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if err := h.consumeState(r.Context(), q.Get("state"), true); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.complete(w, r, model.ProviderGoogle, q.Get("code"))
}

// HandleFacebookCallback completes a Facebook login.
//
// HTTP: GET /auth/facebook/callback?code=...&state=...&error=...
//
// Facebook reports a user cancellation through the error parameter. A state
// is checked when present.
func (h *OAuthHandler) HandleFacebookCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		writeError(w, h.logger, apperror.OAuthFailed("Facebook authentication failed: "+reason, nil))
		return
	}

	if err := h.consumeState(r.Context(), q.Get("state"), false); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.complete(w, r, model.ProviderFacebook, q.Get("code"))
}

func (h *OAuthHandler) redirect(w http.ResponseWriter, r *http.Request, provider string) {
	state, err := cache.NewStateToken()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	target, err := h.identities.AuthCodeURL(provider, state)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.states.Save(r.Context(), state); err != nil {
		writeError(w, h.logger, err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (h *OAuthHandler) consumeState(ctx context.Context, state string, required bool) error {
	if state == "" {
		if required {
			return apperror.OAuthFailed("Invalid OAuth state", nil)
		}
		return nil
	}

	ok, err := h.states.Consume(ctx, state)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.OAuthFailed("Invalid OAuth state", nil)
	}
	return nil
}

func (h *OAuthHandler) complete(w http.ResponseWriter, r *http.Request, provider, code string) {
	if code == "" {
		writeError(w, h.logger, apperror.OAuthFailed("Authorization code not provided", nil))
		return
	}

	result, err := h.identities.Login(r.Context(), provider, code)
	if err != nil {
		h.logger.Warn("oauth login failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse(result.Token, result.User))
}
