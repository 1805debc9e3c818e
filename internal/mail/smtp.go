package mail

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FrontendURL string // Base URL for the reset link (e.g., "http://localhost:3000")
	ResetTTL    time.Duration

	// Timeout bounds one SMTP session from dial to QUIT. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	// MaxConcurrent caps simultaneous SMTP sessions. Zero means
	// DefaultMaxConcurrent.
	MaxConcurrent int
}

const (
	DefaultMaxConcurrent = 4
	DefaultTimeout       = 10 * time.Second
)

// sender delivers one composed message and returns once ctx is done.
type sender interface {
	Send(ctx context.Context, m *gomail.Message) error
}

type SMTPMailer struct {
	config SMTPConfig
	dialer sender
	// slots holds one token per SMTP session in flight.
	slots chan struct{}
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(config SMTPConfig) *SMTPMailer {
	n := config.MaxConcurrent
	if n <= 0 {
		n = DefaultMaxConcurrent
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &SMTPMailer{
		config: config,
		dialer: &smtpDialer{
			host:     config.Host,
			port:     config.Port,
			username: config.Username,
			password: config.Password,
			timeout:  config.Timeout,
		},
		slots: make(chan struct{}, n),
	}
}

func (s *SMTPMailer) SendPasswordReset(ctx context.Context, to, token string) error {
	resetURL := ResetLink(s.config.FrontendURL, token)
	minutes := int(s.config.ResetTTL.Minutes())
	if minutes <= 0 {
		minutes = 15
	}

	subject := "Reset Your Password - Auth Service"
	htmlBody := fmt.Sprintf(`
		<html>
		<body>
			<h2>Password Reset Request</h2>
			<p>We received a request to reset your password. Click the link below to choose a new one:</p>
			<p><a href="%s">Reset Password</a></p>
			<p>Or copy and paste this URL into your browser:</p>
			<p>%s</p>
			<p>This link will expire in %d minutes.</p>
			<p>If you didn't request a password reset, please ignore this email.</p>
		</body>
		</html>
	`, resetURL, resetURL, minutes)

	plainBody := fmt.Sprintf(`
Password Reset Request

We received a request to reset your password. Visit the following URL to choose a new one:
%s

This link will expire in %d minutes.

If you didn't request a password reset, please ignore this email.
	`, resetURL, minutes)

	return s.send(ctx, to, subject, htmlBody, plainBody)
}

func (s *SMTPMailer) SendPasswordChanged(ctx context.Context, to string) error {
	subject := "Password Changed - Auth Service"
	htmlBody := `
		<html>
		<body>
			<h2>Password Changed</h2>
			<p>Your password has been successfully changed.</p>
			<p>If you didn't make this change, please contact support immediately.</p>
		</body>
		</html>
	`

	plainBody := `
Password Changed

Your password has been successfully changed.

If you didn't make this change, please contact support immediately.
	`

	return s.send(ctx, to, subject, htmlBody, plainBody)
}

// send waits for a free slot while ctx allows, then holds it for one SMTP
// session bounded by the configured timeout.
func (s *SMTPMailer) send(ctx context.Context, to, subject, htmlBody, plainBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.FromAddress)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", plainBody)
	m.AddAlternative("text/html", htmlBody)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("mail: waiting to send to %s: %w", to, ctx.Err())
	}
	defer func() { <-s.slots }()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if err := s.dialer.Send(ctx, m); err != nil {
		return fmt.Errorf("mail: sending to %s: %w", to, err)
	}
	return nil
}
