/**
 * @description
 * This file defines the payment models reconciled by the payout-webhook-service.
 * A provider transfer belongs to exactly one of three payment kinds: a generic
 * (invoice) payment, an equity buyback payment or a dividend payment. Each kind
 * is its own struct; the `Payment` interface is the tag shared by all of them.
 *
 * @notes
 * - Amounts settled by the provider are kept as decimals in the provider's major
 *   unit. Ledger entries are stored in minor units (cents) as `int64`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the internal lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusSucceeded  PaymentStatus = "succeeded"
)

// IsTerminal reports whether no further forward transition exists from the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusSucceeded
}

// PaymentKind tags the payment variant.
type PaymentKind string

const (
	PaymentKindGeneric       PaymentKind = "payment"
	PaymentKindEquityBuyback PaymentKind = "equity_buyback_payment"
	PaymentKindDividend      PaymentKind = "dividend_payment"
)

// ProcessorWise is the processor name stored on buyback and dividend payments paid through Wise.
const ProcessorWise = "wise"

// Payment is implemented by every payment variant.
type Payment interface {
	Kind() PaymentKind
	PaymentID() uuid.UUID
	TransferID() string
	CurrentStatus() PaymentStatus
	// CredentialID is the Wise credential the transfer was created with, if any.
	CredentialID() *uuid.UUID
}

// GenericPayment maps to the `payments` table: a payout settling a single invoice.
type GenericPayment struct {
	ID                   uuid.UUID        `json:"id"`
	InvoiceID            uuid.UUID        `json:"invoice_id"`
	CompanyID            uuid.UUID        `json:"company_id"`
	WiseCredentialID     *uuid.UUID       `json:"wise_credential_id,omitempty"`
	Status               PaymentStatus    `json:"status"`
	WiseTransferID       string           `json:"wise_transfer_id"`
	WiseTransferStatus   *string          `json:"wise_transfer_status,omitempty"`
	WiseTransferAmount   *decimal.Decimal `json:"wise_transfer_amount,omitempty"`
	WiseTransferEstimate *time.Time       `json:"wise_transfer_estimate,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (p *GenericPayment) Kind() PaymentKind            { return PaymentKindGeneric }
func (p *GenericPayment) PaymentID() uuid.UUID         { return p.ID }
func (p *GenericPayment) TransferID() string           { return p.WiseTransferID }
func (p *GenericPayment) CurrentStatus() PaymentStatus { return p.Status }
func (p *GenericPayment) CredentialID() *uuid.UUID     { return p.WiseCredentialID }

// EquityBuybackPayment maps to the `equity_buyback_payments` table.
type EquityBuybackPayment struct {
	ID                   uuid.UUID        `json:"id"`
	CompanyID            uuid.UUID        `json:"company_id"`
	WiseCredentialID     *uuid.UUID       `json:"wise_credential_id,omitempty"`
	ProcessorName        string           `json:"processor_name"`
	Status               PaymentStatus    `json:"status"`
	ProviderTransferID   string           `json:"transfer_id"`
	TransferStatus       *string          `json:"transfer_status,omitempty"`
	TransferAmount       *decimal.Decimal `json:"transfer_amount,omitempty"`
	WiseTransferEstimate *time.Time       `json:"wise_transfer_estimate,omitempty"`
	EquityBuybackIDs     []uuid.UUID      `json:"equity_buyback_ids"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (p *EquityBuybackPayment) Kind() PaymentKind            { return PaymentKindEquityBuyback }
func (p *EquityBuybackPayment) PaymentID() uuid.UUID         { return p.ID }
func (p *EquityBuybackPayment) TransferID() string           { return p.ProviderTransferID }
func (p *EquityBuybackPayment) CurrentStatus() PaymentStatus { return p.Status }
func (p *EquityBuybackPayment) CredentialID() *uuid.UUID     { return p.WiseCredentialID }

// DividendPayment maps to the `dividend_payments` table.
type DividendPayment struct {
	ID                   uuid.UUID        `json:"id"`
	WiseCredentialID     *uuid.UUID       `json:"wise_credential_id,omitempty"`
	ProcessorName        string           `json:"processor_name"`
	Status               PaymentStatus    `json:"status"`
	ProviderTransferID   string           `json:"transfer_id"`
	TransferStatus       *string          `json:"transfer_status,omitempty"`
	TransferAmount       *decimal.Decimal `json:"transfer_amount,omitempty"`
	WiseTransferEstimate *time.Time       `json:"wise_transfer_estimate,omitempty"`
	DividendIDs          []uuid.UUID      `json:"dividend_ids"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (p *DividendPayment) Kind() PaymentKind            { return PaymentKindDividend }
func (p *DividendPayment) PaymentID() uuid.UUID         { return p.ID }
func (p *DividendPayment) TransferID() string           { return p.ProviderTransferID }
func (p *DividendPayment) CurrentStatus() PaymentStatus { return p.Status }
func (p *DividendPayment) CredentialID() *uuid.UUID     { return p.WiseCredentialID }

// TransferDetails is the authoritative view of a transfer returned by the provider.
type TransferDetails struct {
	TargetAmount          decimal.Decimal
	EstimatedDeliveryDate *time.Time
}

// ToMinorUnits converts a major-unit amount into cents, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
