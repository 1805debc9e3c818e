package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/auth-service/internal/service"
)

// PasswordResets is the part of service.PasswordResetService the handlers use.
type PasswordResets interface {
	Forgot(ctx context.Context, email string) error
	Reset(ctx context.Context, token, newPassword string) error
}

type PasswordHandler struct {
	resets PasswordResets
	logger *slog.Logger
}

func NewPasswordHandler(resets PasswordResets, logger *slog.Logger) *PasswordHandler {
	return &PasswordHandler{resets: resets, logger: logger}
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,max=72"`
}

// HandleForgotPassword answers with the same acknowledgement whether or not
// the email is registered.
//
// HTTP: POST /forgot-password
func (h *PasswordHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.resets.Forgot(r.Context(), req.Email); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: service.ForgotPasswordAck})
}

// HandleResetPassword sets a new password from an emailed reset token.
//
// HTTP: POST /reset-password
func (h *PasswordHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.resets.Reset(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset successfully"})
}
