package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory implementation of repository.UserRepository.
// It enforces the same UNIQUE rules as the SQLite schema so conflict paths
// can be exercised without a database. Lookups return copies, like rows
// read from a real store.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64

	// set to a non-nil error to simulate a database failure
	getErr error
	// createHook runs before each insert; tests use it to simulate a
	// concurrent writer.
	createHook func()
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User), nextID: 1}
}

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func eqPtr(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	if f.createHook != nil {
		hook := f.createHook
		f.createHook = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		switch {
		case eqPtr(u.Username, user.Username):
			return apperror.Conflict("username", "Username already registered")
		case u.Email == user.Email:
			return apperror.Conflict("email", "Email already registered")
		case eqPtr(u.FacebookID, user.FacebookID):
			return apperror.Conflict("facebook_id", "Facebook account already linked")
		case eqPtr(u.Provider, user.Provider) && eqPtr(u.ProviderUserID, user.ProviderUserID):
			return apperror.Conflict("provider_user_id", "External account already linked")
		}
	}

	now := time.Now()
	user.ID = f.nextID
	f.nextID++
	user.CreatedAt = now
	user.UpdatedAt = now
	f.users[user.ID] = clone(user)
	return nil
}

func (f *fakeUserRepo) find(key string, match func(*model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, apperror.NotFound("user", key)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(strconv.FormatInt(id, 10), func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(username, func(u *model.User) bool { return u.Username != nil && *u.Username == username })
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(email, func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUserRepo) GetByProviderID(_ context.Context, provider, id string) (*model.User, error) {
	return f.find(provider+":"+id, func(u *model.User) bool {
		return model.Deref(u.Provider) == provider && model.Deref(u.ProviderUserID) == id
	})
}

func (f *fakeUserRepo) GetByFacebookID(_ context.Context, id string) (*model.User, error) {
	return f.find(id, func(u *model.User) bool { return model.Deref(u.FacebookID) == id })
}

func (f *fakeUserRepo) update(id int64, fn func(u *model.User) bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !fn(u) {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	u.UpdatedAt = time.Now()
	return nil
}

func (f *fakeUserRepo) UpdateProfile(_ context.Context, id int64, p model.Profile) error {
	return f.update(id, func(u *model.User) bool {
		u.FirstName, u.LastName, u.PictureURL = p.FirstName, p.LastName, p.PictureURL
		return true
	})
}

func (f *fakeUserRepo) LinkIdentity(_ context.Context, id int64, provider, providerUserID string, p model.Profile) error {
	return f.update(id, func(u *model.User) bool {
		u.LinkIdentity(provider, providerUserID)
		u.FirstName, u.LastName, u.PictureURL = p.FirstName, p.LastName, p.PictureURL
		return true
	})
}

func (f *fakeUserRepo) SetResetToken(_ context.Context, id int64, hash string, expires time.Time) error {
	return f.update(id, func(u *model.User) bool {
		u.ResetTokenHash, u.ResetTokenExpires = &hash, &expires
		return true
	})
}

func (f *fakeUserRepo) ClearResetToken(_ context.Context, id int64) error {
	return f.update(id, func(u *model.User) bool {
		u.ResetTokenHash, u.ResetTokenExpires = nil, nil
		return true
	})
}

func (f *fakeUserRepo) CompleteReset(_ context.Context, id int64, expectedHash, newPasswordHash string) error {
	return f.update(id, func(u *model.User) bool {
		if u.ResetTokenHash == nil || *u.ResetTokenHash != expectedHash {
			return false
		}
		u.HashedPassword = &newPasswordHash
		u.ResetTokenHash, u.ResetTokenExpires = nil, nil
		return true
	})
}

func (f *fakeUserRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func (f *fakeUserRepo) stored(t *testing.T, id int64) *model.User {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		t.Fatalf("user %d not stored", id)
	}
	return clone(u)
}

// fakeMailer records what would have been sent.
type fakeMailer struct {
	mu         sync.Mutex
	resetTo    []string
	tokens     []string
	changedTo  []string
	resetErr   error
	changedErr error
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.resetTo = append(m.resetTo, to)
	m.tokens = append(m.tokens, token)
	return nil
}

func (m *fakeMailer) SendPasswordChanged(_ context.Context, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.changedErr != nil {
		return m.changedErr
	}
	m.changedTo = append(m.changedTo, to)
	return nil
}

func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.tokens) == 0 {
		t.Fatal("no reset email sent")
	}
	return m.tokens[len(m.tokens)-1]
}

// stubProvider returns a fixed identity for any code.
type stubProvider struct {
	identity *auth.Identity
	err      error
}

func (p *stubProvider) AuthCodeURL(state string) string { return "https://idp.test/?state=" + state }

func (p *stubProvider) Exchange(context.Context, string) (*auth.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	id := *p.identity
	return &id, nil
}

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

const testSecret = "test-secret-at-least-16-chars!!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokens(t *testing.T, clock *testClock) *auth.TokenService {
	t.Helper()
	cfg := auth.TokenConfig{Secret: testSecret}
	if clock != nil {
		cfg.Now = clock.Now
	}
	ts, err := auth.NewTokenService(cfg)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// Cost 4 is the bcrypt minimum and keeps tests fast.
func newTestPasswords() *auth.PasswordService {
	return auth.NewPasswordServiceForTest(4)
}

func newTestAuthService(t *testing.T, repo *fakeUserRepo) *AuthService {
	t.Helper()
	return NewAuthService(repo, newTestTokens(t, nil), newTestPasswords(), testLogger())
}

func assertClass(t *testing.T, err, class error) *apperror.AppError {
	t.Helper()
	if !errors.Is(err, class) {
		t.Fatalf("error = %v, want class %v", err, class)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error %v is not an *apperror.AppError", err)
	}
	return appErr
}
