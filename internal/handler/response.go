package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so that responses
// have one shape. Errors always look like:
//
//	{"error": "conflict", "message": "Username already registered"}
//
// The "error" value is a stable machine-readable class; "message" is for
// humans and may change.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/model"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`   // Machine-readable error type (e.g., "conflict")
	Message string `json:"message"` // Human-readable description
}

// MessageResponse acknowledges an operation with no other result.
type MessageResponse struct {
	Message string `json:"message"`
}

// TokenResponse is returned by every successful login.
type TokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        *model.User `json:"user"`
}

func newTokenResponse(token string, user *model.User) TokenResponse {
	return TokenResponse{AccessToken: token, TokenType: "bearer", User: user}
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set before the body is written; changes after
// the first Write are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorClasses maps each apperror class to its status code and "error" string.
var errorClasses = []struct {
	class  error
	status int
	name   string
}{
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrConflict, http.StatusBadRequest, "conflict"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrUnauthenticated, http.StatusUnauthorized, "authentication_failed"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrOAuth, http.StatusBadRequest, "oauth_error"},
	{apperror.ErrInvalidToken, http.StatusBadRequest, "invalid_token"},
	{apperror.ErrOAuthOnlyAccount, http.StatusBadRequest, "oauth_only_account"},
	{apperror.ErrDelivery, http.StatusInternalServerError, "delivery_failed"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// The service layer never picks status codes; this is the one place where
// apperror classes become HTTP. Conflicts are 400, not 409. Both 401
// classes carry a WWW-Authenticate challenge.
//
// Unknown errors become a generic 500 and are logged; their text never
// reaches the client.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, c := range errorClasses {
			if !errors.Is(err, c.class) {
				continue
			}
			if c.status == http.StatusUnauthorized {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			if c.status >= http.StatusInternalServerError {
				logger.Error("request failed", slog.String("error", err.Error()))
			}
			writeJSON(w, c.status, ErrorResponse{Error: c.name, Message: appErr.Message})
			return
		}
	}

	logger.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
