package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/config"
	"github.com/sakif/auth-service/internal/server"
)

// ===== FIXTURES =====

type captureMailer struct {
	mu      sync.Mutex
	tokens  map[string]string
	changed []string
}

func (m *captureMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string]string)
	}
	m.tokens[to] = token
	return nil
}

func (m *captureMailer) SendPasswordChanged(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed = append(m.changed, to)
	return nil
}

func (m *captureMailer) changedFor() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.changed...)
}

func (m *captureMailer) token(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[to]
}

type fixedProvider struct {
	identity auth.Identity
}

func (p *fixedProvider) AuthCodeURL(state string) string {
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (p *fixedProvider) Exchange(_ context.Context, code string) (*auth.Identity, error) {
	id := p.identity
	return &id, nil
}

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, opts ...server.Option) *client {
	t.Helper()

	cfg, err := config.FromMap(map[string]string{
		"SECRET_KEY":   "0123456789abcdef0123456789abcdef",
		"DATABASE_URL": ":memory:",
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]server.Option{server.WithPasswordService(auth.NewPasswordServiceForTest(4))}, opts...)

	srv, err := server.New(context.Background(), cfg, logger, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &client{
		t:    t,
		base: ts.URL,
		http: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (c *client) do(method, path, body, bearer string) (*http.Response, map[string]any) {
	c.t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	var decoded map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (c *client) login(username, password string) string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/login", `{"username":"`+username+`","password":"`+password+`"}`, "")
	require.Equal(c.t, http.StatusOK, resp.StatusCode, "login body: %v", body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(c.t, token)
	return token
}

// ===== END TO END =====

func TestServer_RegisterLoginMe(t *testing.T) {
	c := newTestServer(t)

	resp, body := c.do(http.MethodPost, "/register", `{"username":"alice","email":"a@x.com","password":"pw1"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode, "register body: %v", body)
	assert.Equal(t, "alice", body["username"])
	assert.NotContains(t, body, "hashed_password")

	token := c.login("alice", "pw1")

	for _, path := range []string{"/me", "/profile"} {
		resp, body = c.do(http.MethodGet, path, "", token)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "alice", body["username"], path)
		assert.Equal(t, "a@x.com", body["email"], path)
	}

	resp, body = c.do(http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Incorrect username or password", body["message"])

	resp, body = c.do(http.MethodPost, "/register", `{"username":"alice","email":"b@x.com","password":"pw1"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username already registered", body["message"])
}

func TestServer_MeRequiresToken(t *testing.T) {
	c := newTestServer(t)

	resp, _ := c.do(http.MethodGet, "/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	resp, _ = c.do(http.MethodGet, "/me", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_HealthAndRoot(t *testing.T) {
	c := newTestServer(t)

	resp, body := c.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = c.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Auth Service API", body["message"])
}

func TestServer_CORSWildcardWithoutCredentials(t *testing.T) {
	c := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, c.base+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://other.example")
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))

	preflight, err := http.NewRequest(http.MethodOptions, c.base+"/login", nil)
	require.NoError(t, err)
	preflight.Header.Set("Origin", "https://other.example")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = c.http.Do(preflight)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestServer_PasswordReset(t *testing.T) {
	mailer := &captureMailer{}
	c := newTestServer(t, server.WithMailer(mailer))

	resp, _ := c.do(http.MethodPost, "/register", `{"username":"alice","email":"a@x.com","password":"pw1"}`, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, known := c.do(http.MethodPost, "/forgot-password", `{"email":"a@x.com"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, unknown := c.do(http.MethodPost, "/forgot-password", `{"email":"nobody@x.com"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, known, unknown)

	token := mailer.token("a@x.com")
	require.NotEmpty(t, token)

	resp, _ = c.do(http.MethodPost, "/reset-password", `{"token":"`+token+`","new_password":"pw2"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/reset-password", `{"token":"`+token+`","new_password":"pw3"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_token", body["error"])

	c.login("alice", "pw2")
	resp, _ = c.do(http.MethodPost, "/login", `{"username":"alice","password":"pw1"}`, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, []string{"a@x.com"}, mailer.changedFor())
}

func TestServer_GoogleLogin(t *testing.T) {
	google := &fixedProvider{identity: auth.Identity{
		Provider:       "google",
		ProviderUserID: "g-1",
		Email:          "g@x.com",
		FirstName:      "Gee",
		EmailVerified:  true,
	}}
	c := newTestServer(t, server.WithProvider("google", google))

	resp, _ := c.do(http.MethodGet, "/auth/google/login", "", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	callback := "/auth/google/callback?code=c1&state=" + url.QueryEscape(state)
	resp, body := c.do(http.MethodGet, callback, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, "callback body: %v", body)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)

	resp, body = c.do(http.MethodGet, "/me", "", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "g@x.com", body["email"])
	assert.Nil(t, body["username"])

	// The state was consumed by the first callback.
	resp, body = c.do(http.MethodGet, callback, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid OAuth state", body["message"])
}

func TestServer_UnconfiguredProvider(t *testing.T) {
	c := newTestServer(t)

	resp, body := c.do(http.MethodGet, "/auth/facebook", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "oauth_error", body["error"])
}
