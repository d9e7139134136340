package adapter

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/medlinkhq/auth-service/internal/authsvc/app"
)

// sendGridAPI is a narrow, consumer-defined interface for the SendGrid mail
// send endpoint. The real *sendgrid.Client satisfies it.
type sendGridAPI interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Compile-time check: SendGridSender implements app.Sender.
var _ app.Sender = (*SendGridSender)(nil)

// SendGridSenderConfig holds the sender identity and subject line for
// outbound verification mail.
type SendGridSenderConfig struct {
	FromName    string
	FromAddress string
	Subject     string
}

// SendGridSender delivers OTP messages via the SendGrid mail API.
type SendGridSender struct {
	client  sendGridAPI
	from    *mail.Email
	subject string
}

// NewSendGridSender creates a SendGridSender backed by the given client.
func NewSendGridSender(client sendGridAPI, cfg SendGridSenderConfig) *SendGridSender {
	return &SendGridSender{
		client:  client,
		from:    mail.NewEmail(cfg.FromName, cfg.FromAddress),
		subject: cfg.Subject,
	}
}

// Send delivers message as a plain-text email to destination.
// SendGrid reports rejection via the HTTP status code, not the error return,
// so both are checked.
func (p *SendGridSender) Send(ctx context.Context, destination, message string) error {
	to := mail.NewEmail("", destination)
	email := mail.NewSingleEmailPlainText(p.from, p.subject, to, message)

	resp, err := p.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid sender: send to %s: %w", maskDestination(destination), err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid sender: send to %s: status %d", maskDestination(destination), resp.StatusCode)
	}

	return nil
}
