package dispatch

import (
	"context"
	"fmt"

	gomail "gopkg.in/gomail.v2"
)

// Transport delivers a built message.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

// SMTPTransport sends through a single SMTP relay; the From header rotates
// per message while the relay credentials stay fixed.
type SMTPTransport struct {
	dialer *gomail.Dialer
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{dialer: gomail.NewDialer(host, port, username, password)}
}

func (t *SMTPTransport) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.From.Email, m.From.Name)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetHeader("Message-ID", m.MessageID)
	if m.InReplyTo != "" {
		msg.SetHeader("In-Reply-To", m.InReplyTo)
		msg.SetHeader("References", m.InReplyTo)
	}
	msg.SetBody("text/plain", m.Body)

	if err := t.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
