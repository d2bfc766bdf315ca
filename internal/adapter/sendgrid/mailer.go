// Package sendgrid delivers composed alerts over email via the SendGrid API.
package sendgrid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer implements dispatch.Transport. Credentials and connection handling
// are entirely its concern; callers only observe the per-recipient outcome.
type Mailer struct {
	client    *sendgrid.Client
	fromName  string
	fromEmail string
	logger    *slog.Logger
}

// NewMailer creates a SendGrid-backed mailer.
func NewMailer(apiKey, fromName, fromEmail string, logger *slog.Logger) *Mailer {
	return &Mailer{
		client:    sendgrid.NewSendClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    logger,
	}
}

// Send delivers one plain-text alert to one recipient.
func (m *Mailer) Send(ctx context.Context, recipient, subject, body string) error {
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(m.fromName, m.fromEmail))
	message.Subject = subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(recipient, recipient))
	message.AddPersonalizations(p)
	message.AddContent(mail.NewContent("text/plain", body))

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid rejected message: status %d: %s", resp.StatusCode, resp.Body)
	}

	m.logger.Debug("alert email accepted", "recipient", recipient, "status", resp.StatusCode)
	return nil
}
