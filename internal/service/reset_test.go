package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/model"
)

type resetFixture struct {
	repo   *fakeUserRepo
	mailer *fakeMailer
	clock  *testClock
	svc    *PasswordResetService
	authn  *AuthService
	alice  *model.User
}

func newResetFixture(t *testing.T, disclose bool) *resetFixture {
	t.Helper()
	repo := newFakeUserRepo()
	mailer := &fakeMailer{}
	clock := &testClock{t: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
	tokens := newTestTokens(t, clock)
	passwords := newTestPasswords()

	authn := NewAuthService(repo, tokens, passwords, testLogger())
	alice := registerAlice(t, authn)

	svc := NewPasswordResetService(repo, tokens, passwords, mailer, testLogger(), ResetOptions{
		DiscloseOAuthOnly: disclose,
		Now:               clock.Now,
	})
	return &resetFixture{repo: repo, mailer: mailer, clock: clock, svc: svc, authn: authn, alice: alice}
}

func (f *resetFixture) addOAuthOnly(t *testing.T) {
	t.Helper()
	err := f.repo.Create(context.Background(), &model.User{
		Email:          "g@x.com",
		Provider:       model.StringPtr(model.ProviderGoogle),
		ProviderUserID: model.StringPtr("g-1"),
	})
	if err != nil {
		t.Fatal(err)
	}
}

// =========================================================================
// FORGOT PASSWORD TESTS
// =========================================================================

func TestForgot_IssuesTokenAndStoresHash(t *testing.T) {
	f := newResetFixture(t, true)

	if err := f.svc.Forgot(context.Background(), "a@x.com"); err != nil {
		t.Fatalf("Forgot() error = %v", err)
	}

	token := f.mailer.lastToken(t)
	stored := f.repo.stored(t, f.alice.ID)
	if model.Deref(stored.ResetTokenHash) != auth.HashResetToken(token) {
		t.Error("stored hash does not match the mailed token")
	}
	if model.Deref(stored.ResetTokenHash) == token {
		t.Error("the raw token must not be stored")
	}
	wantExp := f.clock.Now().Add(15 * time.Minute)
	if stored.ResetTokenExpires == nil || !stored.ResetTokenExpires.Equal(wantExp) {
		t.Errorf("ResetTokenExpires = %v, want %v", stored.ResetTokenExpires, wantExp)
	}
}

func TestForgot_UnknownAndKnownLookTheSame(t *testing.T) {
	f := newResetFixture(t, true)

	errUnknown := f.svc.Forgot(context.Background(), "nobody@x.com")
	errKnown := f.svc.Forgot(context.Background(), "a@x.com")

	if errUnknown != nil || errKnown != nil {
		t.Fatalf("Forgot() errors = %v, %v; both must succeed", errUnknown, errKnown)
	}
	if len(f.mailer.resetTo) != 1 {
		t.Errorf("%d reset emails sent, want 1", len(f.mailer.resetTo))
	}
}

func TestForgot_OAuthOnlyAccount(t *testing.T) {
	t.Run("disclosed", func(t *testing.T) {
		f := newResetFixture(t, true)
		f.addOAuthOnly(t)

		err := f.svc.Forgot(context.Background(), "g@x.com")
		assertClass(t, err, apperror.ErrOAuthOnlyAccount)
	})

	t.Run("hidden", func(t *testing.T) {
		f := newResetFixture(t, false)
		f.addOAuthOnly(t)

		if err := f.svc.Forgot(context.Background(), "g@x.com"); err != nil {
			t.Fatalf("Forgot() error = %v, want generic success", err)
		}
		if len(f.mailer.resetTo) != 0 {
			t.Error("no email for a passwordless account")
		}
	})
}

func TestForgot_DeliveryFailureRollsBack(t *testing.T) {
	f := newResetFixture(t, true)
	f.mailer.resetErr = errors.New("smtp: 421 service not available")

	err := f.svc.Forgot(context.Background(), "a@x.com")

	assertClass(t, err, apperror.ErrDelivery)
	stored := f.repo.stored(t, f.alice.ID)
	if stored.ResetTokenHash != nil || stored.ResetTokenExpires != nil {
		t.Error("reset fields must be cleared after a failed send")
	}
}

// =========================================================================
// RESET PASSWORD TESTS
// =========================================================================

func TestReset_SucceedsExactlyOnce(t *testing.T) {
	f := newResetFixture(t, true)
	ctx := context.Background()
	if err := f.svc.Forgot(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	token := f.mailer.lastToken(t)

	if err := f.svc.Reset(ctx, token, "new-pw"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if _, err := f.authn.Login(ctx, "alice", "new-pw"); err != nil {
		t.Errorf("login with the new password failed: %v", err)
	}
	if _, err := f.authn.Login(ctx, "alice", "pw1"); err == nil {
		t.Error("old password still works")
	}
	stored := f.repo.stored(t, f.alice.ID)
	if stored.ResetTokenHash != nil || stored.ResetTokenExpires != nil {
		t.Error("reset fields must be cleared")
	}
	if len(f.mailer.changedTo) != 1 {
		t.Error("password changed email not sent")
	}

	err := f.svc.Reset(ctx, token, "another-pw")
	appErr := assertClass(t, err, apperror.ErrInvalidToken)
	if appErr.Message != "Invalid or expired token" {
		t.Errorf("Message = %q", appErr.Message)
	}
}

func TestReset_Failures(t *testing.T) {
	tests := []struct {
		name  string
		token func(t *testing.T, f *resetFixture) string
	}{
		{
			name: "garbage",
			token: func(*testing.T, *resetFixture) string {
				return "not-a-token"
			},
		},
		{
			name: "access token",
			token: func(t *testing.T, f *resetFixture) string {
				r, err := f.authn.Login(context.Background(), "alice", "pw1")
				if err != nil {
					t.Fatal(err)
				}
				return r.Token
			},
		},
		{
			name: "signed but never issued",
			token: func(t *testing.T, f *resetFixture) string {
				tok, _ := f.svc.tokens.IssueReset("a@x.com")
				return tok
			},
		},
		{
			name: "superseded by a newer request",
			token: func(t *testing.T, f *resetFixture) string {
				ctx := context.Background()
				_ = f.svc.Forgot(ctx, "a@x.com")
				old := f.mailer.lastToken(t)
				f.clock.Advance(time.Second)
				_ = f.svc.Forgot(ctx, "a@x.com")
				return old
			},
		},
		{
			name: "server-side expiry passed",
			token: func(t *testing.T, f *resetFixture) string {
				_ = f.svc.Forgot(context.Background(), "a@x.com")
				tok := f.mailer.lastToken(t)
				// Shorten the stored expiry; the JWT itself is still valid.
				stored := f.repo.stored(t, f.alice.ID)
				_ = f.repo.SetResetToken(context.Background(), f.alice.ID, *stored.ResetTokenHash, f.clock.Now())
				return tok
			},
		},
		{
			name: "jwt expired",
			token: func(t *testing.T, f *resetFixture) string {
				_ = f.svc.Forgot(context.Background(), "a@x.com")
				tok := f.mailer.lastToken(t)
				f.clock.Advance(15 * time.Minute)
				return tok
			},
		},
		{
			name: "subject no longer exists",
			token: func(t *testing.T, f *resetFixture) string {
				tok, _ := f.svc.tokens.IssueReset("gone@x.com")
				return tok
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResetFixture(t, true)
			token := tt.token(t, f)

			err := f.svc.Reset(context.Background(), token, "new-pw")

			appErr := assertClass(t, err, apperror.ErrInvalidToken)
			if appErr.Message != "Invalid or expired token" {
				t.Errorf("Message = %q", appErr.Message)
			}
			if _, err := f.authn.Login(context.Background(), "alice", "pw1"); err != nil {
				t.Error("password must be unchanged")
			}
		})
	}
}

func TestReset_ChangedMailFailureIsNotFatal(t *testing.T) {
	f := newResetFixture(t, true)
	ctx := context.Background()
	if err := f.svc.Forgot(ctx, "a@x.com"); err != nil {
		t.Fatal(err)
	}
	f.mailer.changedErr = errors.New("smtp down")

	if err := f.svc.Reset(ctx, f.mailer.lastToken(t), "new-pw"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
}
