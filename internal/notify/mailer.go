package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/quantumlayerhq/aetim/pkg/config"
)

// Mailer delivers one message. Satisfied by the SMTP mailer; tests swap in
// a recorder.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SMTPMailer delivers mail over SMTP with STARTTLS when the server offers
// it.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer builds the mailer from the notification configuration.
func NewSMTPMailer(cfg config.NotificationConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		from: cfg.EmailFrom,
		auth: auth,
	}
}

// Send delivers one plain-text message to all recipients.
func (m *SMTPMailer) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, m.auth, m.from, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("smtp delivery to %s: %w", m.addr, err)
	}
	return nil
}
