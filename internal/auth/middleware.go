package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or overwrite the values stored here.
type contextKey string

const subjectKey contextKey = "subject"

// AccessValidator is the part of TokenService the middleware needs.
type AccessValidator interface {
	ValidateAccess(token string) (*Claims, error)
}

// RequireAuth is a middleware that enforces bearer authentication.
//
// It reads "Authorization: Bearer <jwt>", validates the access token and
// stores the token subject (an email or username) in the request context.
// A missing, malformed, expired or reset-kind token gets 401 and the chain
// stops.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := extractSubject(r, tokens)
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"Could not validate credentials"}` + "\n"))
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated token subject.
//
// Returns ("", false) outside a RequireAuth-protected route.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey).(string)
	return s, ok && s != ""
}

// ContextWithSubject returns a copy of ctx carrying subject. Handlers are
// normally reached through RequireAuth; this exists for tests.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// BearerToken extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func extractSubject(r *http.Request, tokens AccessValidator) (string, bool) {
	raw, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	claims, err := tokens.ValidateAccess(raw)
	if err != nil {
		return "", false
	}
	return claims.Subject, true
}
