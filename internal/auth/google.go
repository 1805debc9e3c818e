package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sakif/auth-service/internal/apperror"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// GoogleConfig holds the Google OAuth client settings. The URL fields are
// optional overrides (tests point them at httptest servers).
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
	Timeout    time.Duration
}

// googleUserInfo is the portion of the v1 userinfo response we use.
type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// GoogleProvider implements Provider on top of golang.org/x/oauth2.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
	client      *http.Client
}

var _ Provider = (*GoogleProvider)(nil)

// NewGoogleProvider builds a GoogleProvider requesting the
// "openid email profile" scopes.
//
// Client credentials are sent in the token request body
// (AuthStyleInParams) together with grant_type=authorization_code.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	endpoint := oauth2.Endpoint{
		AuthURL:   googleAuthURL,
		TokenURL:  google.Endpoint.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	userInfoURL := googleUserInfoURL
	if cfg.UserInfoURL != "" {
		userInfoURL = cfg.UserInfoURL
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		client:      newProviderClient(cfg.HTTPClient, cfg.Timeout),
	}
}

// AuthCodeURL returns the consent URL. access_type=offline and
// prompt=consent are always requested.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes the flow in two sequential calls:
//  1. POST the code to the token endpoint for a bearer access token
//  2. GET the userinfo endpoint with that token
//
// A transport error, a non-2xx status at either step, or a token response
// without an access token all yield the same OAuth failure.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	info, err := p.exchange(ctx, code)
	if err != nil {
		return nil, apperror.OAuthFailed("Failed to get user info from Google", err)
	}

	return &Identity{
		Provider:       "google",
		ProviderUserID: info.ID,
		Email:          info.Email,
		FirstName:      info.GivenName,
		LastName:       info.FamilyName,
		PictureURL:     info.Picture,
		EmailVerified:  info.VerifiedEmail,
	}, nil
}

func (p *GoogleProvider) exchange(ctx context.Context, code string) (*googleUserInfo, error) {
	// oauth2 picks its HTTP client up from the context.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("no access token in response")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo returned status %d: %s", resp.StatusCode, body)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("userinfo response has no id")
	}
	return &info, nil
}
