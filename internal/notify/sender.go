package notify

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Sender delivers recovery notifications. Callers treat delivery as
// fire-and-forget; a failed send is logged, never retried.
type Sender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// SMTPSender sends plain-text mail through a single SMTP relay.
type SMTPSender struct {
	addr string // host:port
	from string
	auth smtp.Auth
}

// NewSMTPSender returns a sender relaying through addr as from. username may
// be empty for an unauthenticated relay.
func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if i := strings.IndexByte(addr, ':'); i >= 0 {
			host = addr[:i]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPSender{addr: addr, from: from, auth: auth}
}

// Send delivers one message to recipients.
func (s *SMTPSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.from, strings.Join(recipients, ", "), subject, body)
	if err := smtp.SendMail(s.addr, s.auth, s.from, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// LogSender logs instead of sending. Used when no relay is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	log.Printf("[notify] (no relay configured) to=%v subject=%q", recipients, subject)
	return nil
}
