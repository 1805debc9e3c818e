// Package auth provides the credential and token primitives of the service:
// bcrypt password hashing, JWT access and reset tokens, bearer-token
// middleware and the OAuth2 provider abstraction.
//
// TOKEN KINDS:
// Both kinds are HMAC-signed JWTs produced with one secret and one algorithm
// chosen at process start.
//
//	access: {sub, iat, exp, iss, jti}               default TTL 30m
//	reset:  {sub, iat, exp, iss, jti, type:"reset"} default TTL 15m
//
// The "type" claim is the only thing separating the two, so access
// validation rejects any token that carries one and reset validation
// requires type == "reset".
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const (
	// DefaultAccessTTL is the access-token lifetime when none is configured.
	DefaultAccessTTL = 30 * time.Minute
	// DefaultResetTTL is the reset-token lifetime when none is configured.
	DefaultResetTTL = 15 * time.Minute
	// DefaultIssuer is written to and required in the "iss" claim.
	DefaultIssuer = "auth-service"

	// TokenTypeReset marks a password-reset token.
	TokenTypeReset = "reset"

	minSecretLength = 16
)

// ErrInvalidToken is returned by every validation failure: bad signature,
// wrong algorithm, malformed structure, expiry, or wrong token kind.
var ErrInvalidToken = errors.New("auth: invalid token")

// TokenConfig configures a TokenService. Zero durations fall back to the
// defaults above.
type TokenConfig struct {
	Secret    string
	Algorithm string // HS256, HS384 or HS512
	AccessTTL time.Duration
	ResetTTL  time.Duration
	Issuer    string

	// Now overrides the clock used for iat/exp and for validation.
	Now func() time.Time
}

// TokenService issues and validates signed access and reset tokens.
type TokenService struct {
	secret    []byte
	method    jwt.SigningMethod
	accessTTL time.Duration
	resetTTL  time.Duration
	issuer    string
	now       func() time.Time
}

// Claims is the JWT payload shared by both token kinds.
type Claims struct {
	Type string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// NewTokenService validates cfg and builds a TokenService.
// Only HMAC algorithms are accepted since the service holds a shared secret.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLength)
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", alg)
	}

	s := &TokenService{
		secret:    []byte(cfg.Secret),
		method:    method,
		accessTTL: cfg.AccessTTL,
		resetTTL:  cfg.ResetTTL,
		issuer:    cfg.Issuer,
		now:       cfg.Now,
	}
	if s.accessTTL <= 0 {
		s.accessTTL = DefaultAccessTTL
	}
	if s.resetTTL <= 0 {
		s.resetTTL = DefaultResetTTL
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// ResetTTL returns the configured reset-token lifetime.
func (s *TokenService) ResetTTL() time.Duration { return s.resetTTL }

// IssueAccess signs an access token for subject with the default TTL.
func (s *TokenService) IssueAccess(subject string) (string, error) {
	return s.issue(subject, s.accessTTL, "")
}

// IssueAccessWithTTL signs an access token with a custom lifetime.
func (s *TokenService) IssueAccessWithTTL(subject string, ttl time.Duration) (string, error) {
	return s.issue(subject, ttl, "")
}

// IssueReset signs a single-purpose password-reset token for subject.
func (s *TokenService) IssueReset(subject string) (string, error) {
	return s.issue(subject, s.resetTTL, TokenTypeReset)
}

// ValidateAccess verifies an access token and returns its claims.
// A reset token presented here is rejected.
func (s *TokenService) ValidateAccess(tokenStr string) (*Claims, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Type != "" {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, c.Type)
	}
	return c, nil
}

// ValidateReset verifies a reset token and returns its claims.
// Anything without type == "reset" is rejected, including valid access tokens.
//
// This is only the stateless half of reset validation. Callers must also
// compare HashResetToken(token) with the digest stored for the subject.
func (s *TokenService) ValidateReset(tokenStr string) (*Claims, error) {
	c, err := s.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	if c.Type != TokenTypeReset {
		return nil, fmt.Errorf("%w: not a reset token", ErrInvalidToken)
	}
	return c, nil
}

func (s *TokenService) issue(subject string, ttl time.Duration, typ string) (string, error) {
	if subject == "" {
		return "", errors.New("auth: token subject must not be empty")
	}

	now := s.now()
	c := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(s.method, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// parse checks signature, algorithm, issuer and expiry. The expiry check is
// strict: a token is already expired at the instant now == exp.
func (s *TokenService) parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}
	return c, nil
}

// HashResetToken returns the hex SHA-256 digest stored server-side for a
// reset token. Only the digest is persisted, never the token itself.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ResetTokenMatches compares token against a stored digest in constant time.
func ResetTokenMatches(token, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	got := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}
