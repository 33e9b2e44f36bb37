package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus values written by the reconciliation flow.
type InvoiceStatus string

const (
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusPaid       InvoiceStatus = "paid"
	InvoiceStatusFailed     InvoiceStatus = "failed"
)

// BalanceTransactionPaymentFailed is the ledger type for reversed payouts.
const BalanceTransactionPaymentFailed = "payment_failed"

// BalanceTransaction is an append-only ledger entry on a company balance.
// AmountCents is negative for reversals.
type BalanceTransaction struct {
	ID              uuid.UUID `json:"id"`
	CompanyID       uuid.UUID `json:"company_id"`
	PaymentID       uuid.UUID `json:"payment_id"`
	AmountCents     int64     `json:"amount_cents"`
	TransactionType string    `json:"transaction_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// Statuses of the dividend and equity buyback rows linked to a payout.
const (
	PayoutRecordIssued     = "Issued"
	PayoutRecordProcessing = "Processing"
	PayoutRecordPaid       = "Paid"
)

// CompanyInvestor links a user to a company they hold equity in.
type CompanyInvestor struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	CompanyID uuid.UUID `json:"company_id"`
}

// InvestorContact is what the mailer needs to address an investor.
type InvestorContact struct {
	CompanyInvestorID uuid.UUID `json:"company_investor_id"`
	UserID            uuid.UUID `json:"user_id"`
	Email             string    `json:"email"`
	LegalName         string    `json:"legal_name"`
	CompanyName       string    `json:"company_name"`
}

// WiseCredential is a tenant's Wise API access.
type WiseCredential struct {
	ID        uuid.UUID  `json:"id"`
	ProfileID string     `json:"profile_id"`
	APIKey    string     `json:"-"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
