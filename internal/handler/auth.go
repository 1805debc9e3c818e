package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-service/internal/apperror"
	"github.com/sakif/auth-service/internal/auth"
	"github.com/sakif/auth-service/internal/model"
	"github.com/sakif/auth-service/internal/service"
)

// Accounts is the part of service.AuthService the handlers use.
type Accounts interface {
	Register(ctx context.Context, username, email, password string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	CurrentUser(ctx context.Context, subject string) (*model.User, error)
}

// AuthHandler serves password registration, login and the profile routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → POST /register
//   - HandleLogin    → POST /login
//   - HandleMe       → GET /me and GET /profile (behind auth.RequireAuth)
type AuthHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAuthHandler(accounts Accounts, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, logger: logger}
}

// RegisterRequest is the body of POST /register. Usernames may not contain
// '@' so they can never be mistaken for an email in a token subject.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=50,excludes=@"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister creates a local account and returns it with 201.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleLogin checks credentials and returns a bearer token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse(result.Token, result.User))
}

// HandleMe returns the account behind the bearer token.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	subject, ok := auth.SubjectFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Could not validate credentials"))
		return
	}

	user, err := h.accounts.CurrentUser(r.Context(), subject)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
