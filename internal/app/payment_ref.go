package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

// TransitionContext carries the event data a recipe may need.
type TransitionContext struct {
	OccurredAt time.Time
	// RefundAmount is set for refund events; the failed recipe then uses it
	// instead of querying the provider.
	RefundAmount *decimal.Decimal
}

// PaymentRef is a located payment bound to the recipes of its kind.
type PaymentRef interface {
	Payment() domain.Payment
	// RecordProviderState stores the provider state verbatim.
	RecordProviderState(ctx context.Context, state string) error
	// ApplyTransition runs the recipe for target. It returns store.ErrStatusUnchanged
	// when a concurrent delivery already applied it.
	ApplyTransition(ctx context.Context, target domain.PaymentStatus, tc TransitionContext) error
}

type recipeDeps struct {
	repo     store.Repository
	enricher *StateEnricher
	notifier Notifier
	logger   *slog.Logger
}

func (d *recipeDeps) refFor(payment domain.Payment) (PaymentRef, error) {
	switch p := payment.(type) {
	case *domain.GenericPayment:
		return &genericPaymentRef{payment: p, deps: d}, nil
	case *domain.EquityBuybackPayment:
		return &payoutPaymentRef{payment: p, deps: d, sentTemplate: domain.TemplateEquityBuybackPaymentSent}, nil
	case *domain.DividendPayment:
		return &payoutPaymentRef{payment: p, deps: d, sentTemplate: domain.TemplateDividendPaymentSent}, nil
	default:
		return nil, fmt.Errorf("unsupported payment type %T", payment)
	}
}

type genericPaymentRef struct {
	payment *domain.GenericPayment
	deps    *recipeDeps
}

func (r *genericPaymentRef) Payment() domain.Payment { return r.payment }

func (r *genericPaymentRef) RecordProviderState(ctx context.Context, state string) error {
	if err := r.deps.repo.UpdatePaymentWiseTransferStatus(ctx, r.payment.ID, state); err != nil {
		return fmt.Errorf("record wise transfer status: %w", err)
	}
	return nil
}

func (r *genericPaymentRef) ApplyTransition(ctx context.Context, target domain.PaymentStatus, tc TransitionContext) error {
	switch target {
	case domain.PaymentStatusFailed:
		return r.fail(ctx, tc)
	case domain.PaymentStatusProcessing:
		if err := r.deps.repo.UpdateInvoiceStatus(ctx, r.payment.InvoiceID, domain.InvoiceStatusProcessing); err != nil {
			return fmt.Errorf("mark invoice processing: %w", err)
		}
		return nil
	case domain.PaymentStatusSucceeded:
		return r.succeed(ctx, tc)
	default:
		return fmt.Errorf("unsupported target status %q", target)
	}
}

func (r *genericPaymentRef) fail(ctx context.Context, tc TransitionContext) error {
	var amount decimal.Decimal
	if tc.RefundAmount != nil {
		amount = *tc.RefundAmount
	} else {
		source, err := r.deps.enricher.SourceAmount(ctx, r.payment)
		if err != nil {
			return err
		}
		amount = source
	}

	return r.deps.repo.FailPayment(ctx, store.FailPaymentParams{
		PaymentID:         r.payment.ID,
		InvoiceID:         r.payment.InvoiceID,
		CompanyID:         r.payment.CompanyID,
		LedgerAmountCents: -domain.ToMinorUnits(amount),
	})
}

func (r *genericPaymentRef) succeed(ctx context.Context, tc TransitionContext) error {
	details, err := r.deps.enricher.FetchTransferDetails(ctx, r.payment)
	if err != nil {
		return err
	}
	return r.deps.repo.SucceedPayment(ctx, store.SucceedPaymentParams{
		PaymentID:      r.payment.ID,
		InvoiceID:      r.payment.InvoiceID,
		TransferAmount: details.TargetAmount,
		Estimate:       details.EstimatedDeliveryDate,
		PaidAt:         occurredAtOrNow(tc.OccurredAt),
	})
}

// payoutPaymentRef serves equity buyback and dividend payments. Both move their
// linked records along with the payment and notify the investor once paid.
type payoutPaymentRef struct {
	payment      domain.Payment
	deps         *recipeDeps
	sentTemplate string
}

func (r *payoutPaymentRef) Payment() domain.Payment { return r.payment }

func (r *payoutPaymentRef) dividend() bool {
	return r.payment.Kind() == domain.PaymentKindDividend
}

func (r *payoutPaymentRef) RecordProviderState(ctx context.Context, state string) error {
	var err error
	if r.dividend() {
		err = r.deps.repo.UpdateDividendPaymentTransferStatus(ctx, r.payment.PaymentID(), state)
	} else {
		err = r.deps.repo.UpdateEquityBuybackPaymentTransferStatus(ctx, r.payment.PaymentID(), state)
	}
	if err != nil {
		return fmt.Errorf("record %s transfer status: %w", r.payment.Kind(), err)
	}
	return nil
}

func (r *payoutPaymentRef) transition(ctx context.Context, params store.PayoutTransitionParams) error {
	if r.dividend() {
		return r.deps.repo.TransitionDividendPayment(ctx, params)
	}
	return r.deps.repo.TransitionEquityBuybackPayment(ctx, params)
}

func (r *payoutPaymentRef) firstInvestor(ctx context.Context) (*domain.CompanyInvestor, error) {
	if r.dividend() {
		return r.deps.repo.FindFirstDividendInvestor(ctx, r.payment.PaymentID())
	}
	return r.deps.repo.FindFirstEquityBuybackInvestor(ctx, r.payment.PaymentID())
}

func (r *payoutPaymentRef) ApplyTransition(ctx context.Context, target domain.PaymentStatus, tc TransitionContext) error {
	params := store.PayoutTransitionParams{
		PaymentID: r.payment.PaymentID(),
		Target:    target,
	}

	switch target {
	case domain.PaymentStatusFailed:
		params.RecordStatus = domain.PayoutRecordIssued
	case domain.PaymentStatusProcessing:
		params.RecordStatus = domain.PayoutRecordProcessing
	case domain.PaymentStatusSucceeded:
		details, err := r.deps.enricher.FetchTransferDetails(ctx, r.payment)
		if err != nil {
			return err
		}
		paidAt := occurredAtOrNow(tc.OccurredAt)
		params.RecordStatus = domain.PayoutRecordPaid
		params.RecordPaidAt = &paidAt
		params.TransferAmount = &details.TargetAmount
		params.Estimate = details.EstimatedDeliveryDate

		if err := r.transition(ctx, params); err != nil {
			return err
		}
		r.notifySent(ctx, details)
		return nil
	default:
		return fmt.Errorf("unsupported target status %q", target)
	}

	return r.transition(ctx, params)
}

// notifySent runs after the transition committed. A failure here is logged rather
// than returned: a retry would find the payment already succeeded and stop.
func (r *payoutPaymentRef) notifySent(ctx context.Context, details domain.TransferDetails) {
	logger := r.deps.logger.With("payment_id", r.payment.PaymentID(), "kind", r.payment.Kind())

	investor, err := r.firstInvestor(ctx)
	if err != nil {
		if errors.Is(err, store.ErrInvestorNotFound) {
			logger.Info("no investor linked to payment; skipping notification")
			return
		}
		logger.Warn("failed to load investor for notification", "error", err)
		return
	}

	notification := domain.InvestorNotification{
		Template:          r.sentTemplate,
		CompanyInvestorID: investor.ID,
		PaymentID:         r.payment.PaymentID(),
		AmountCents:       domain.ToMinorUnits(details.TargetAmount),
		EstimatedDelivery: details.EstimatedDeliveryDate,
	}
	if err := r.deps.notifier.Enqueue(ctx, notification); err != nil {
		logger.Warn("failed to enqueue payment sent notification", "error", err)
	}
}
