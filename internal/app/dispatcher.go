/**
 * @description
 * The dispatcher routes a transfer event to the located payment and runs the
 * transition recipe for the target status. Refunds always target `failed`;
 * state changes are classified by the provider state carried in the event.
 *
 * @notes
 * - Every delivery may be redelivered. `updatePaymentStatus` skips a recipe
 *   whose target status the payment already holds, and the store applies the
 *   status change conditionally so concurrent deliveries cannot both run it.
 * - A failed payment is never marked succeeded. A succeeded payment may still
 *   fail when the provider returns the money (refund, bounce, chargeback).
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

type Dispatcher struct {
	locator *Locator
	recipes *recipeDeps
	logger  *slog.Logger
}

func NewDispatcher(repo store.Repository, enricher *StateEnricher, notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		locator: NewLocator(repo),
		recipes: &recipeDeps{
			repo:     repo,
			enricher: enricher,
			notifier: notifier,
			logger:   logger,
		},
		logger: logger,
	}
}

// HandleRefund forces the payment into failed, using the refunded amount from the payload.
func (d *Dispatcher) HandleRefund(ctx context.Context, event domain.TransferEvent) error {
	ref, ok, err := d.locate(ctx, event)
	if err != nil || !ok {
		return err
	}
	return d.updatePaymentStatus(ctx, ref, domain.PaymentStatusFailed, TransitionContext{
		OccurredAt:   event.OccurredAt,
		RefundAmount: event.RefundAmount,
	})
}

// HandleStateChange records the provider state and applies the matching recipe.
// States that are neither failed, processing nor sent are recorded only.
func (d *Dispatcher) HandleStateChange(ctx context.Context, event domain.TransferEvent) error {
	ref, ok, err := d.locate(ctx, event)
	if err != nil || !ok {
		return err
	}

	if err := ref.RecordProviderState(ctx, event.CurrentState); err != nil {
		return err
	}

	tc := TransitionContext{OccurredAt: event.OccurredAt}
	switch {
	case domain.IsFailedTransferState(event.CurrentState):
		return d.updatePaymentStatus(ctx, ref, domain.PaymentStatusFailed, tc)
	case domain.IsProcessingTransferState(event.CurrentState):
		return d.updatePaymentStatus(ctx, ref, domain.PaymentStatusProcessing, tc)
	case domain.IsSentTransferState(event.CurrentState):
		return d.updatePaymentStatus(ctx, ref, domain.PaymentStatusSucceeded, tc)
	default:
		d.logger.Debug("ignoring intermediate transfer state", "transfer_id", event.TransferID, "state", event.CurrentState)
		return nil
	}
}

func (d *Dispatcher) locate(ctx context.Context, event domain.TransferEvent) (PaymentRef, bool, error) {
	if event.TransferID == "" {
		d.logger.Info("transfer event without transfer id; ignoring", "kind", event.Kind)
		return nil, false, nil
	}

	payment, ok, err := d.locator.Locate(ctx, event.TransferID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		d.logger.Info("no payment found for transfer; ignoring", "transfer_id", event.TransferID, "kind", event.Kind)
		return nil, false, nil
	}

	ref, err := d.recipes.refFor(payment)
	if err != nil {
		return nil, false, err
	}
	return ref, true, nil
}

func (d *Dispatcher) updatePaymentStatus(ctx context.Context, ref PaymentRef, target domain.PaymentStatus, tc TransitionContext) error {
	payment := ref.Payment()
	current := payment.CurrentStatus()
	logger := d.logger.With(
		"payment_id", payment.PaymentID(),
		"kind", payment.Kind(),
		"transfer_id", payment.TransferID(),
		"from", current,
		"to", target,
	)

	if current == target && target.IsTerminal() {
		logger.Info("payment already in target status; skipping")
		return nil
	}
	if target == domain.PaymentStatusProcessing && current.IsTerminal() {
		logger.Info("stale processing event for settled payment; skipping")
		return nil
	}
	if target == domain.PaymentStatusSucceeded && current == domain.PaymentStatusFailed {
		logger.Warn("sent event for failed payment; skipping")
		return nil
	}

	if err := ref.ApplyTransition(ctx, target, tc); err != nil {
		if errors.Is(err, store.ErrStatusUnchanged) {
			logger.Info("payment status changed concurrently; skipping")
			return nil
		}
		return err
	}

	logger.Info("payment status updated")
	return nil
}
