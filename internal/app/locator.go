package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

// Locator resolves a provider transfer id to the payment it settles.
type Locator struct {
	repo store.Repository
}

func NewLocator(repo store.Repository) *Locator {
	return &Locator{repo: repo}
}

// Locate tries generic payments, then equity buyback payments, then dividend
// payments, and returns the first match. Transfer ids are unique at the provider
// so at most one kind can match.
func (l *Locator) Locate(ctx context.Context, transferID string) (domain.Payment, bool, error) {
	payment, err := l.repo.FindPaymentByWiseTransferID(ctx, transferID)
	if err == nil {
		return payment, true, nil
	}
	if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, false, fmt.Errorf("lookup payment: %w", err)
	}

	buyback, err := l.repo.FindWiseEquityBuybackPaymentByTransferID(ctx, transferID)
	if err == nil {
		return buyback, true, nil
	}
	if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, false, fmt.Errorf("lookup equity buyback payment: %w", err)
	}

	dividend, err := l.repo.FindWiseDividendPaymentByTransferID(ctx, transferID)
	if err == nil {
		return dividend, true, nil
	}
	if !errors.Is(err, store.ErrPaymentNotFound) {
		return nil, false, fmt.Errorf("lookup dividend payment: %w", err)
	}

	return nil, false, nil
}
