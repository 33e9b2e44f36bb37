package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks one webhook delivery through the retry pipeline.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSucceeded DeliveryStatus = "succeeded"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDead      DeliveryStatus = "dead"
)

// WebhookDelivery is a row of the `webhook_deliveries` table.
type WebhookDelivery struct {
	ID            uuid.UUID       `json:"id"`
	EventType     string          `json:"event_type"`
	RoutingKey    string          `json:"routing_key"`
	TransferID    string          `json:"transfer_id"`
	Payload       json.RawMessage `json:"payload"`
	Status        DeliveryStatus  `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt *time.Time      `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DeliveryMessage is the body published to the delivery exchange.
// Attempt is 1-based.
type DeliveryMessage struct {
	DeliveryID uuid.UUID        `json:"delivery_id"`
	Attempt    int              `json:"attempt"`
	Event      WiseWebhookEvent `json:"event"`
}

// Notification templates sent to investors.
const (
	TemplateDividendPaymentFailed    = "dividend_payment_failed"
	TemplateDividendPaymentSent      = "dividend_payment_sent"
	TemplateEquityBuybackPaymentSent = "equity_buyback_payment_sent"
)

// InvestorNotification is published to the notification exchange and rendered by the mailer.
type InvestorNotification struct {
	ID                uuid.UUID  `json:"id"`
	Template          string     `json:"template"`
	CompanyInvestorID uuid.UUID  `json:"company_investor_id"`
	PaymentID         uuid.UUID  `json:"payment_id"`
	Reason            string     `json:"reason,omitempty"`
	AmountCents       int64      `json:"amount_cents,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
