/**
 * @description
 * This package sends transactional email through SendGrid.
 *
 * @dependencies
 * - github.com/sendgrid/sendgrid-go: SendGrid v3 API client and mail helpers.
 */
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is a single rendered email.
type Message struct {
	ToName      string
	ToEmail     string
	Subject     string
	PlainText   string
	HTML        string
	Categories  []string
	ReferenceID string
}

// Sender delivers rendered email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender is a Sender backed by the SendGrid v3 API.
type SendGridSender struct {
	client      *sendgrid.Client
	fromName    string
	fromEmail   string
	sandboxMode bool
}

// SendError is returned when SendGrid answers with a non-2xx status.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sendgrid returned status %d: %s", e.StatusCode, e.Body)
}

func NewSendGridSender(apiKey, fromName, fromEmail string, sandboxMode bool) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	if strings.TrimSpace(fromEmail) == "" {
		return nil, errors.New("sendgrid from email is required")
	}
	return &SendGridSender{
		client:      sendgrid.NewSendClient(apiKey),
		fromName:    fromName,
		fromEmail:   fromEmail,
		sandboxMode: sandboxMode,
	}, nil
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)

	email := mail.NewSingleEmail(from, msg.Subject, to, msg.PlainText, msg.HTML)
	if len(msg.Categories) > 0 {
		email.AddCategories(msg.Categories...)
	}
	if msg.ReferenceID != "" {
		email.SetCustomArg("reference_id", msg.ReferenceID)
	}
	if s.sandboxMode {
		ms := mail.NewMailSettings()
		ms.SetSandboxMode(mail.NewSetting(true))
		email.MailSettings = ms
	}

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SendError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return nil
}

// LogSender is used when no SendGrid key is configured; it drops the message.
type LogSender struct {
	Logf func(format string, args ...interface{})
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	if s.Logf != nil {
		s.Logf("level=info component=mailer mode=log msg=\"email not sent\" to=%s subject=%q", msg.ToEmail, msg.Subject)
	}
	return nil
}
