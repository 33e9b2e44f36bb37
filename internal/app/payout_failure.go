package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

// PayoutFailureService handles transfers the recipient bank rejected. The dividends
// become reissuable and the investor is asked to provide a new bank account.
type PayoutFailureService struct {
	repo     store.Repository
	notifier Notifier
	logger   *slog.Logger
}

func NewPayoutFailureService(repo store.Repository, notifier Notifier, logger *slog.Logger) *PayoutFailureService {
	return &PayoutFailureService{repo: repo, notifier: notifier, logger: logger}
}

// HandlePayoutFailure is silent when the dividend payment or its investor cannot be found.
func (s *PayoutFailureService) HandlePayoutFailure(ctx context.Context, event domain.TransferEvent) error {
	if event.TransferID == "" {
		return nil
	}
	logger := s.logger.With("transfer_id", event.TransferID)

	payment, err := s.repo.FindWiseDividendPaymentByTransferID(ctx, event.TransferID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			logger.Info("payout failure for unknown dividend payment; ignoring")
			return nil
		}
		return fmt.Errorf("lookup dividend payment: %w", err)
	}

	investor, err := s.repo.FindFirstDividendInvestor(ctx, payment.ID)
	if err != nil {
		if errors.Is(err, store.ErrInvestorNotFound) {
			logger.Info("dividend payment has no investor; ignoring", "dividend_payment_id", payment.ID)
			return nil
		}
		return fmt.Errorf("lookup dividend investor: %w", err)
	}

	result, err := s.repo.RevertDividendPaymentForReissue(ctx, store.RevertDividendPaymentParams{
		DividendPaymentID: payment.ID,
		UserID:            investor.UserID,
	})
	if err != nil {
		return fmt.Errorf("revert dividend payment: %w", err)
	}
	logger.Info("dividends reverted for reissue",
		"dividend_payment_id", payment.ID,
		"company_investor_id", investor.ID,
		"dividends_reverted", result.DividendsReverted,
		"bank_account_deleted", result.BankAccountDeleted,
	)

	notification := domain.InvestorNotification{
		Template:          domain.TemplateDividendPaymentFailed,
		CompanyInvestorID: investor.ID,
		PaymentID:         payment.ID,
		Reason:            event.FailureReason,
	}
	if err := s.notifier.Enqueue(ctx, notification); err != nil {
		return fmt.Errorf("enqueue payout failure notification: %w", err)
	}
	return nil
}
