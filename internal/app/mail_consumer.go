package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
	"github.com/transfa/payout-webhook-service/pkg/mailer"
)

const emailHTMLLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937; line-height: 1.5;">
<p>Hi %s,</p>
%s
<p>If you have any questions, reply to this email.</p>
</body>
</html>`

// MailConsumer renders investor notifications and sends them as email.
type MailConsumer struct {
	repo   store.Repository
	sender mailer.Sender
	logger *slog.Logger
}

func NewMailConsumer(repo store.Repository, sender mailer.Sender, logger *slog.Logger) *MailConsumer {
	return &MailConsumer{repo: repo, sender: sender, logger: logger}
}

// HandleMessage returns false for transient failures so the notification is redelivered.
func (c *MailConsumer) HandleMessage(body []byte) bool {
	var notification domain.InvestorNotification
	if err := json.Unmarshal(body, &notification); err != nil {
		c.logger.Error("failed to decode investor notification; dropping", "error", err)
		return true
	}
	logger := c.logger.With("notification_id", notification.ID, "template", notification.Template)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	contact, err := c.repo.FindInvestorContact(ctx, notification.CompanyInvestorID)
	if err != nil {
		if errors.Is(err, store.ErrInvestorNotFound) {
			logger.Warn("investor not found; dropping notification", "company_investor_id", notification.CompanyInvestorID)
			return true
		}
		logger.Error("failed to load investor contact", "error", err)
		return false
	}
	if strings.TrimSpace(contact.Email) == "" {
		logger.Warn("investor has no email; dropping notification", "company_investor_id", notification.CompanyInvestorID)
		return true
	}

	msg, err := RenderNotification(notification, *contact)
	if err != nil {
		logger.Warn("cannot render notification; dropping", "error", err)
		return true
	}

	if err := c.sender.Send(ctx, msg); err != nil {
		var sendErr *mailer.SendError
		if errors.As(err, &sendErr) && sendErr.StatusCode >= 400 && sendErr.StatusCode < 500 && sendErr.StatusCode != http.StatusTooManyRequests {
			logger.Error("email rejected; dropping notification", "status", sendErr.StatusCode, "error", err)
			return true
		}
		logger.Error("failed to send email", "error", err)
		return false
	}

	logger.Info("investor notification sent", "company_investor_id", notification.CompanyInvestorID)
	return true
}

// RenderNotification builds the email for a notification template.
func RenderNotification(n domain.InvestorNotification, contact domain.InvestorContact) (mailer.Message, error) {
	name := strings.TrimSpace(contact.LegalName)
	if name == "" {
		name = "there"
	}
	company := strings.TrimSpace(contact.CompanyName)
	if company == "" {
		company = "your company"
	}

	msg := mailer.Message{
		ToName:      contact.LegalName,
		ToEmail:     contact.Email,
		Categories:  []string{n.Template},
		ReferenceID: n.ID.String(),
	}

	var lines []string
	switch n.Template {
	case domain.TemplateDividendPaymentFailed:
		msg.Subject = fmt.Sprintf("Your dividend payment from %s could not be delivered", company)
		lines = append(lines, fmt.Sprintf("We were unable to deliver your dividend payment from %s to your bank account.", company))
		if reason := strings.TrimSpace(n.Reason); reason != "" {
			lines = append(lines, "Reason given by the receiving bank: "+reason)
		}
		lines = append(lines, "Please add a new bank account in your settings. Your dividends will be paid again once it is set up.")
	case domain.TemplateDividendPaymentSent:
		msg.Subject = fmt.Sprintf("Your dividend payment from %s is on its way", company)
		lines = append(lines, fmt.Sprintf("We have sent your dividend payment of %s from %s.", formatCents(n.AmountCents), company))
		lines = appendEstimate(lines, n.EstimatedDelivery)
	case domain.TemplateEquityBuybackPaymentSent:
		msg.Subject = fmt.Sprintf("Your buyback payment from %s is on its way", company)
		lines = append(lines, fmt.Sprintf("We have sent your equity buyback payment of %s from %s.", formatCents(n.AmountCents), company))
		lines = appendEstimate(lines, n.EstimatedDelivery)
	default:
		return mailer.Message{}, fmt.Errorf("unknown notification template %q", n.Template)
	}

	msg.PlainText = fmt.Sprintf("Hi %s,\n\n%s\n\nIf you have any questions, reply to this email.", name, strings.Join(lines, "\n\n"))

	var body strings.Builder
	for _, line := range lines {
		body.WriteString("<p>")
		body.WriteString(html.EscapeString(line))
		body.WriteString("</p>\n")
	}
	msg.HTML = fmt.Sprintf(emailHTMLLayout, html.EscapeString(name), body.String())

	return msg, nil
}

func appendEstimate(lines []string, estimate *time.Time) []string {
	if estimate == nil {
		return lines
	}
	return append(lines, "It should arrive by "+estimate.UTC().Format("January 2, 2006")+".")
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
