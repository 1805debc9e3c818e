package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

// implicitTLSPort is the SMTPS port, where TLS starts before the greeting.
const implicitTLSPort = 465

// smtpDialer runs one SMTP session per message. Every read and write on the
// connection shares a single deadline, and cancelling ctx aborts the session
// at once, so a server that accepts and then stalls cannot hold a send open.
type smtpDialer struct {
	host     string
	port     int
	username string
	password string
	timeout  time.Duration
}

func (d *smtpDialer) Send(ctx context.Context, m *gomail.Message) error {
	from, rcpts, err := envelope(m)
	if err != nil {
		return err
	}

	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(ctx, "tcp", net.JoinHostPort(d.host, strconv.Itoa(d.port)))
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := d.session(conn, from, rcpts, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (d *smtpDialer) session(conn net.Conn, from string, rcpts []string, m *gomail.Message) error {
	tlsConfig := &tls.Config{ServerName: d.host}
	if d.port == implicitTLSPort {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, d.host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(tlsConfig); err != nil {
			return err
		}
	}
	if d.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", d.username, d.password, d.host)); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range rcpts {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := m.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// envelope reads the SMTP sender and recipients out of the message headers.
func envelope(m *gomail.Message) (string, []string, error) {
	from := m.GetHeader("From")
	if len(from) == 0 {
		return "", nil, fmt.Errorf("message has no From header")
	}
	sender, err := netmail.ParseAddress(from[0])
	if err != nil {
		return "", nil, fmt.Errorf("parsing From: %w", err)
	}

	var rcpts []string
	for _, field := range []string{"To", "Cc", "Bcc"} {
		for _, value := range m.GetHeader(field) {
			addr, err := netmail.ParseAddress(value)
			if err != nil {
				return "", nil, fmt.Errorf("parsing %s: %w", field, err)
			}
			rcpts = append(rcpts, addr.Address)
		}
	}
	if len(rcpts) == 0 {
		return "", nil, fmt.Errorf("message has no recipients")
	}
	return sender.Address, rcpts, nil
}
