package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
	"github.com/transfa/payout-webhook-service/pkg/wiseclient"
)

// ErrMissingCredential is returned when a payment carries no Wise credential to query with.
var ErrMissingCredential = errors.New("payment has no wise credential")

// TransferQuerier is the subset of the Wise API used to enrich webhook events.
type TransferQuerier interface {
	GetTransfer(ctx context.Context, apiKey, transferID string) (*wiseclient.Transfer, error)
	GetDeliveryEstimate(ctx context.Context, apiKey, transferID string) (*wiseclient.DeliveryEstimate, error)
}

// StateEnricher fetches authoritative transfer data from the provider. Errors are
// returned unchanged in kind so the delivery is retried as a whole.
type StateEnricher struct {
	repo     store.Repository
	provider TransferQuerier
}

func NewStateEnricher(repo store.Repository, provider TransferQuerier) *StateEnricher {
	return &StateEnricher{repo: repo, provider: provider}
}

// FetchTransferDetails returns the settled target amount and the delivery estimate.
func (e *StateEnricher) FetchTransferDetails(ctx context.Context, payment domain.Payment) (domain.TransferDetails, error) {
	var details domain.TransferDetails

	apiKey, err := e.apiKey(ctx, payment)
	if err != nil {
		return details, err
	}

	transfer, err := e.provider.GetTransfer(ctx, apiKey, payment.TransferID())
	if err != nil {
		return details, fmt.Errorf("get transfer %s: %w", payment.TransferID(), err)
	}
	details.TargetAmount = transfer.TargetValue

	estimate, err := e.provider.GetDeliveryEstimate(ctx, apiKey, payment.TransferID())
	if err != nil {
		return details, fmt.Errorf("get delivery estimate %s: %w", payment.TransferID(), err)
	}
	if raw := strings.TrimSpace(estimate.EstimatedDeliveryDate); raw != "" {
		parsed, err := domain.ParseProviderTime(raw)
		if err != nil {
			return details, fmt.Errorf("delivery estimate: %w", err)
		}
		details.EstimatedDeliveryDate = &parsed
	}

	return details, nil
}

// SourceAmount returns the amount debited from the payer for the transfer.
func (e *StateEnricher) SourceAmount(ctx context.Context, payment domain.Payment) (decimal.Decimal, error) {
	apiKey, err := e.apiKey(ctx, payment)
	if err != nil {
		return decimal.Zero, err
	}
	transfer, err := e.provider.GetTransfer(ctx, apiKey, payment.TransferID())
	if err != nil {
		return decimal.Zero, fmt.Errorf("get transfer %s: %w", payment.TransferID(), err)
	}
	return transfer.SourceValue, nil
}

func (e *StateEnricher) apiKey(ctx context.Context, payment domain.Payment) (string, error) {
	credentialID := payment.CredentialID()
	if credentialID == nil {
		return "", fmt.Errorf("%s %s: %w", payment.Kind(), payment.PaymentID(), ErrMissingCredential)
	}
	credential, err := e.repo.FindWiseCredentialByID(ctx, *credentialID)
	if err != nil {
		return "", fmt.Errorf("load wise credential %s: %w", credentialID, err)
	}
	return credential.APIKey, nil
}

func occurredAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
