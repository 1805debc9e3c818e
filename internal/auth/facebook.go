package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/auth-service/internal/apperror"
)

const (
	facebookAuthURL  = "https://www.facebook.com/v18.0/dialog/oauth"
	facebookTokenURL = "https://graph.facebook.com/v18.0/oauth/access_token"
	facebookMeURL    = "https://graph.facebook.com/v18.0/me"
)

// FacebookConfig holds the Facebook app settings. URL fields override the
// Graph API endpoints.
type FacebookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL  string
	TokenURL string
	MeURL    string

	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

type facebookToken struct {
	AccessToken string `json:"access_token"`
}

type facebookUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// FacebookProvider implements Provider against the Graph API.
//
// Unlike Google, both Graph calls are plain GETs: the token endpoint takes
// the code and app credentials as query parameters. Each step logs its
// failure and reports "no result"; Exchange then turns the first missing
// result into an OAuth error naming the step that failed.
type FacebookProvider struct {
	config   *oauth2.Config
	tokenURL string
	meURL    string
	client   *http.Client
	logger   *slog.Logger
}

var _ Provider = (*FacebookProvider)(nil)

// NewFacebookProvider builds a FacebookProvider.
func NewFacebookProvider(cfg FacebookConfig) *FacebookProvider {
	authURL := facebookAuthURL
	if cfg.AuthURL != "" {
		authURL = cfg.AuthURL
	}
	tokenURL := facebookTokenURL
	if cfg.TokenURL != "" {
		tokenURL = cfg.TokenURL
	}
	meURL := facebookMeURL
	if cfg.MeURL != "" {
		meURL = cfg.MeURL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &FacebookProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			// Facebook expects the comma separated form.
			Scopes:   []string{"email,public_profile"},
			Endpoint: oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		},
		tokenURL: tokenURL,
		meURL:    meURL,
		client:   newProviderClient(cfg.HTTPClient, cfg.Timeout),
		logger:   logger,
	}
}

// AuthCodeURL returns the Facebook login dialog URL.
func (p *FacebookProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades code for a Graph access token, then reads id, name and
// email from /me. Email is absent when the user declined the permission.
func (p *FacebookProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token := p.accessToken(ctx, code)
	if token == "" {
		return nil, apperror.OAuthFailed("Failed to get access token from Facebook", nil)
	}

	user := p.me(ctx, token)
	if user == nil {
		return nil, apperror.OAuthFailed("Failed to get user information from Facebook", nil)
	}
	if user.ID == "" {
		return nil, apperror.OAuthFailed("Facebook ID not provided", nil)
	}

	first, last := splitName(user.Name)
	return &Identity{
		Provider:       "facebook",
		ProviderUserID: user.ID,
		Email:          user.Email,
		FirstName:      first,
		LastName:       last,
		// Graph only returns an email it has confirmed.
		EmailVerified: user.Email != "",
	}, nil
}

func (p *FacebookProvider) accessToken(ctx context.Context, code string) string {
	q := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"code":          {code},
	}

	var tok facebookToken
	if err := p.getJSON(ctx, p.tokenURL, q, &tok); err != nil {
		p.logger.Warn("facebook token exchange failed", slog.String("error", err.Error()))
		return ""
	}
	return tok.AccessToken
}

func (p *FacebookProvider) me(ctx context.Context, token string) *facebookUser {
	q := url.Values{
		"fields":       {"id,name,email"},
		"access_token": {token},
	}

	var user facebookUser
	if err := p.getJSON(ctx, p.meURL, q, &user); err != nil {
		p.logger.Warn("facebook user lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return &user
}

func (p *FacebookProvider) getJSON(ctx context.Context, endpoint string, q url.Values, dst any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", endpoint, err)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
