package auth

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/auth-service/internal/apperror"
)

// DefaultProviderTimeout bounds every outbound call to an OAuth provider.
const DefaultProviderTimeout = 10 * time.Second

// ErrUnknownProvider is returned (wrapped in an OAuth AppError) when a
// provider name has not been registered.
var ErrUnknownProvider = errors.New("auth: unknown provider")

// Identity is the normalized external identity every provider returns.
// Email may be empty when the user did not grant it.
type Identity struct {
	Provider       string
	ProviderUserID string
	Email          string
	FirstName      string
	LastName       string
	PictureURL     string
	EmailVerified  bool
}

// Provider is one external OAuth2 identity source.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. AuthCodeURL builds the provider URL the browser is redirected to,
//     carrying our client id, redirect URI, scopes and a CSRF state value.
//  2. The provider redirects back to our callback with a short-lived code.
//  3. Exchange trades the code for an access token (server to server) and
//     uses it to fetch the user's profile.
//
// Every failure inside Exchange is reported as an apperror.ErrOAuth error.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Registry dispatches to providers by name. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider for name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Provider looks up a provider. An unregistered name fails before any
// network call is made.
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.OAuthFailed("Unknown provider: "+name, ErrUnknownProvider)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AuthCodeURL returns the authorization URL of the named provider.
func (r *Registry) AuthCodeURL(name, state string) (string, error) {
	p, err := r.Provider(name)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Exchange trades code for an identity at the named provider.
func (r *Registry) Exchange(ctx context.Context, name, code string) (*Identity, error) {
	p, err := r.Provider(name)
	if err != nil {
		return nil, err
	}
	return p.Exchange(ctx, code)
}

// newProviderClient returns the HTTP client used for provider calls,
// guaranteeing a bounded timeout.
func newProviderClient(client *http.Client, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	if client == nil {
		return &http.Client{Timeout: timeout}
	}
	if client.Timeout == 0 {
		c := *client
		c.Timeout = timeout
		return &c
	}
	return client
}

// splitName splits a display name into first and last name on the first run
// of whitespace.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
