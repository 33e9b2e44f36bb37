/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the payout-webhook-service performs. Payment, invoice, dividend and
 * ledger tables are owned by the main application; this service only reconciles
 * them. The `webhook_deliveries` table is owned by this service.
 *
 * @dependencies
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: Provider amounts.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrInvestorNotFound   = errors.New("investor not found")
	ErrCredentialNotFound = errors.New("wise credential not found")
	ErrDeliveryNotFound   = errors.New("webhook delivery not found")
	// ErrStatusUnchanged is returned by conditional transitions when the payment
	// already holds the target status, typically because a concurrent delivery won.
	ErrStatusUnchanged = errors.New("payment status unchanged")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payment lookup
	FindPaymentByWiseTransferID(ctx context.Context, transferID string) (*domain.GenericPayment, error)
	FindWiseEquityBuybackPaymentByTransferID(ctx context.Context, transferID string) (*domain.EquityBuybackPayment, error)
	FindWiseDividendPaymentByTransferID(ctx context.Context, transferID string) (*domain.DividendPayment, error)

	// Credentials
	ActiveCredentialExistsForProfile(ctx context.Context, profileID string) (bool, error)
	FindWiseCredentialByID(ctx context.Context, credentialID uuid.UUID) (*domain.WiseCredential, error)

	// Generic payment transitions
	UpdatePaymentWiseTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID uuid.UUID, status domain.InvoiceStatus) error
	FailPayment(ctx context.Context, params FailPaymentParams) error
	SucceedPayment(ctx context.Context, params SucceedPaymentParams) error

	// Equity buyback and dividend payment transitions
	UpdateEquityBuybackPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error
	UpdateDividendPaymentTransferStatus(ctx context.Context, paymentID uuid.UUID, transferStatus string) error
	TransitionEquityBuybackPayment(ctx context.Context, params PayoutTransitionParams) error
	TransitionDividendPayment(ctx context.Context, params PayoutTransitionParams) error

	// Investors
	FindFirstDividendInvestor(ctx context.Context, dividendPaymentID uuid.UUID) (*domain.CompanyInvestor, error)
	FindFirstEquityBuybackInvestor(ctx context.Context, equityBuybackPaymentID uuid.UUID) (*domain.CompanyInvestor, error)
	FindInvestorContact(ctx context.Context, companyInvestorID uuid.UUID) (*domain.InvestorContact, error)
	RevertDividendPaymentForReissue(ctx context.Context, params RevertDividendPaymentParams) (RevertDividendPaymentResult, error)

	// Webhook deliveries
	CreateWebhookDelivery(ctx context.Context, delivery *domain.WebhookDelivery) error
	MarkDeliverySucceeded(ctx context.Context, deliveryID uuid.UUID, attempts int) error
	MarkDeliveryRetrying(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string, nextAttemptAt time.Time) error
	MarkDeliveryDead(ctx context.Context, deliveryID uuid.UUID, attempts int, lastError string) error
	ClaimDueDeliveries(ctx context.Context, limit int, now time.Time) ([]domain.WebhookDelivery, error)
	ListDeadDeliveries(ctx context.Context, limit int) ([]domain.WebhookDelivery, error)
	ResetDeliveryForReplay(ctx context.Context, deliveryID uuid.UUID) (*domain.WebhookDelivery, error)
}

// FailPaymentParams carries the writes of a generic payment failure. They are
// applied atomically and only when the payment is not already failed.
type FailPaymentParams struct {
	PaymentID         uuid.UUID
	InvoiceID         uuid.UUID
	CompanyID         uuid.UUID
	LedgerAmountCents int64
}

// SucceedPaymentParams carries the writes of a generic payment success.
type SucceedPaymentParams struct {
	PaymentID      uuid.UUID
	InvoiceID      uuid.UUID
	TransferAmount decimal.Decimal
	Estimate       *time.Time
	PaidAt         time.Time
}

// PayoutTransitionParams moves an equity buyback or dividend payment and its
// linked records. RecordStatus is applied to the linked buybacks/dividends;
// RecordPaidAt nil clears their paid_at.
type PayoutTransitionParams struct {
	PaymentID      uuid.UUID
	Target         domain.PaymentStatus
	RecordStatus   string
	RecordPaidAt   *time.Time
	TransferAmount *decimal.Decimal
	Estimate       *time.Time
}

type RevertDividendPaymentParams struct {
	DividendPaymentID uuid.UUID
	UserID            uuid.UUID
}

type RevertDividendPaymentResult struct {
	BankAccountDeleted bool
	DividendsReverted  int64
}
