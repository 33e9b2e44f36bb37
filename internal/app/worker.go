/**
 * @description
 * The delivery worker is the job that processes one accepted webhook. It applies
 * the tenant filter, serializes work per transfer, routes the event and records
 * the attempt on the delivery row. Failed attempts are retried with exponential
 * back-off by the retry sweeper until the attempt budget is spent; the delivery
 * is then dead-lettered for operators.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

const (
	DefaultMaxDeliveryAttempts = 5
	defaultDeliveryTimeout     = 30 * time.Second
	maxRetryDelay              = 5 * time.Minute
)

// PermanentError marks a failure that retrying cannot fix, such as a malformed payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// RetryDelay is the back-off before the attempt following the given 1-based attempt.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(1<<min(attempt, 9)) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// WorkerConfig holds the tunables of the delivery worker.
type WorkerConfig struct {
	// DefaultProfileID is the platform's own Wise profile. Events for other
	// profiles are processed only when a tenant credential is registered.
	DefaultProfileID string
	MaxAttempts      int
	Timeout          time.Duration
}

type DeliveryWorker struct {
	repo       store.Repository
	dispatcher *Dispatcher
	recovery   *PayoutFailureService
	locker     TransferLocker
	cfg        WorkerConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewDeliveryWorker creates a worker. locker may be nil, in which case deliveries
// for the same transfer rely on the conditional status updates alone.
func NewDeliveryWorker(repo store.Repository, dispatcher *Dispatcher, recovery *PayoutFailureService, locker TransferLocker, cfg WorkerConfig, logger *slog.Logger) *DeliveryWorker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxDeliveryAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDeliveryTimeout
	}
	cfg.DefaultProfileID = strings.TrimSpace(cfg.DefaultProfileID)

	return &DeliveryWorker{
		repo:       repo,
		dispatcher: dispatcher,
		recovery:   recovery,
		locker:     locker,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleMessage is the RabbitMQ handler. It returns false only when the attempt
// outcome could not be recorded, so the broker redelivers the message.
func (w *DeliveryWorker) HandleMessage(body []byte) bool {
	var msg domain.DeliveryMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		w.logger.Error("failed to decode delivery message; dropping", "error", err)
		return true
	}
	attempt := msg.Attempt
	if attempt < 1 {
		attempt = 1
	}
	logger := w.logger.With("delivery_id", msg.DeliveryID, "attempt", attempt, "event_type", msg.Event.EventType)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	err := w.Perform(ctx, msg.Event)
	cancel()

	if msg.DeliveryID == uuid.Nil {
		if err != nil {
			logger.Error("untracked delivery failed", "error", err)
		}
		return true
	}

	recordCtx, recordCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer recordCancel()

	if recordErr := w.recordOutcome(recordCtx, logger, msg.DeliveryID, attempt, err); recordErr != nil {
		if errors.Is(recordErr, store.ErrDeliveryNotFound) {
			logger.Warn("delivery row missing; dropping message")
			return true
		}
		logger.Error("failed to record delivery outcome", "error", recordErr)
		return false
	}
	return true
}

func (w *DeliveryWorker) recordOutcome(ctx context.Context, logger *slog.Logger, deliveryID uuid.UUID, attempt int, err error) error {
	if err == nil {
		return w.repo.MarkDeliverySucceeded(ctx, deliveryID, attempt)
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) || attempt >= w.cfg.MaxAttempts {
		logger.Error("webhook delivery dead-lettered", "error", err, "max_attempts", w.cfg.MaxAttempts)
		return w.repo.MarkDeliveryDead(ctx, deliveryID, attempt, err.Error())
	}

	next := w.now().Add(RetryDelay(attempt))
	logger.Warn("webhook delivery failed; scheduling retry", "error", err, "next_attempt_at", next)
	return w.repo.MarkDeliveryRetrying(ctx, deliveryID, attempt, err.Error(), next)
}

// Perform runs one delivery attempt.
func (w *DeliveryWorker) Perform(ctx context.Context, payload domain.WiseWebhookEvent) error {
	event, err := payload.ToTransferEvent()
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("parse webhook payload: %w", err)}
	}

	allowed, err := w.tenantAllowed(ctx, event.ProfileID)
	if err != nil {
		return fmt.Errorf("tenant check: %w", err)
	}
	if !allowed {
		w.logger.Info("ignoring event for unknown wise profile", "kind", event.Kind, "transfer_id", event.TransferID)
		return nil
	}

	if event.TransferID != "" && w.locker != nil {
		release, err := w.locker.Acquire(ctx, event.TransferID)
		if err != nil {
			return err
		}
		defer release()
	}

	switch event.Kind {
	case domain.TransferEventRefund:
		return w.dispatcher.HandleRefund(ctx, event)
	case domain.TransferEventPayoutFailure:
		return w.recovery.HandlePayoutFailure(ctx, event)
	default:
		return w.dispatcher.HandleStateChange(ctx, event)
	}
}

func (w *DeliveryWorker) tenantAllowed(ctx context.Context, profileID string) (bool, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return false, nil
	}
	if w.cfg.DefaultProfileID != "" && profileID == w.cfg.DefaultProfileID {
		return true, nil
	}
	return w.repo.ActiveCredentialExistsForProfile(ctx, profileID)
}
