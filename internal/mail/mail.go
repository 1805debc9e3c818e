// Package mail sends the password reset and password changed notices.
package mail

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
)

// Mailer delivers account notifications. Implementations must honour the
// context deadline.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, token string) error
	SendPasswordChanged(ctx context.Context, to string) error
}

// ResetLink builds <frontendURL>/reset-password?token=<token>.
func ResetLink(frontendURL, token string) string {
	return strings.TrimRight(frontendURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// LogMailer stands in for SMTP when no server is configured. It logs the
// recipient and the kind of message, never the token.
type LogMailer struct {
	logger *slog.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(ctx context.Context, to, _ string) error {
	m.logger.InfoContext(ctx, "smtp not configured, password reset email not sent",
		slog.String("to", to),
	)
	return nil
}

func (m *LogMailer) SendPasswordChanged(ctx context.Context, to string) error {
	m.logger.InfoContext(ctx, "smtp not configured, password changed email not sent",
		slog.String("to", to),
	)
	return nil
}
