// Package model defines the data structures used throughout the application.
package model

import "time"

// Provider values stored in users.provider.
const (
	ProviderLocal    = "local"
	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

// User is the only persisted entity.
//
// OPTIONAL COLUMNS AS POINTERS:
// Several columns are NULL for some accounts: Google signups have no
// username, OAuth-only accounts have no password, and the reset pair is set
// only while a reset is pending. A nil pointer maps to SQL NULL, which keeps
// the UNIQUE indexes on username and facebook_id from colliding on "".
//
// Invariants:
//   - a local account always has HashedPassword
//   - ResetTokenHash and ResetTokenExpires are set and cleared together
//
// Secrets and identity keys are tagged json:"-" so a User can be written
// straight into an API response.
type User struct {
	ID             int64   `json:"id"`
	Username       *string `json:"username"`
	Email          string  `json:"email"`
	HashedPassword *string `json:"-"`

	Provider       *string `json:"provider"`
	ProviderUserID *string `json:"-"`
	FacebookID     *string `json:"-"`

	FirstName  *string `json:"first_name"`
	LastName   *string `json:"last_name"`
	PictureURL *string `json:"picture_url"`

	ResetTokenHash    *string    `json:"-"`
	ResetTokenExpires *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.HashedPassword != nil && *u.HashedPassword != ""
}

// LinkIdentity records an external identity on u. Facebook ids live in
// facebook_id; every other provider uses the (provider, provider_user_id)
// pair. A Facebook link leaves provider alone while that pair holds another
// provider's identity, so the pair keeps resolving to this account.
func (u *User) LinkIdentity(provider, providerUserID string) {
	if provider == ProviderFacebook {
		u.FacebookID = StringPtr(providerUserID)
		if u.ProviderUserID != nil {
			return
		}
	} else {
		u.ProviderUserID = StringPtr(providerUserID)
	}
	u.Provider = StringPtr(provider)
}

// Profile holds the fields an OAuth callback refreshes on every login.
type Profile struct {
	FirstName  *string
	LastName   *string
	PictureURL *string
}

// StringPtr returns nil for "" and &s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *s, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
