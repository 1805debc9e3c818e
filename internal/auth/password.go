// PASSWORD HASHING:
// bcrypt generates a random salt per call and embeds it, together with the
// cost, in the output:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 iterations)
//	 version
//
// so no separate salt column is needed and two hashes of the same password
// never compare equal as strings.

package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer input would be silently
// truncated by the algorithm, so Hash rejects it instead.
const maxPasswordBytes = 72

// ErrPasswordTooLong is returned by Hash for input over 72 bytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService provides bcrypt hashing and verification.
//
// The cost is a field so tests can run at bcrypt's minimum (4).
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with the given bcrypt
// cost. Use bcrypt.MinCost (4) from tests in other packages.
//
// Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash returns a salted bcrypt digest of plaintext.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify reports whether plaintext matches digest.
//
// It never returns an error: a malformed or empty digest simply does not
// match. bcrypt.CompareHashAndPassword compares in constant time.
func (p *PasswordService) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}
