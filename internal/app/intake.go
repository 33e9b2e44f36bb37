package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

// ErrMalformedPayload is returned when a webhook body is not a Wise event.
var ErrMalformedPayload = errors.New("malformed webhook payload")

const (
	defaultDeadListLimit = 50
	maxDeadListLimit     = 500
)

// AcceptResult describes what intake did with a webhook.
type AcceptResult struct {
	Ignored  bool
	Deferred bool
	Delivery *domain.WebhookDelivery
}

// IntakeService records accepted webhooks and queues them for the worker.
// Duplicate provider deliveries are recorded and queued again; the worker is idempotent.
type IntakeService struct {
	repo   store.Repository
	queue  DeliveryPublisher
	logger *slog.Logger
}

func NewIntakeService(repo store.Repository, queue DeliveryPublisher, logger *slog.Logger) *IntakeService {
	return &IntakeService{repo: repo, queue: queue, logger: logger}
}

func (s *IntakeService) Accept(ctx context.Context, body []byte) (AcceptResult, error) {
	var event domain.WiseWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return AcceptResult{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	routingKey, ok := RoutingKeyForEventType(event.EventType)
	if !ok {
		s.logger.Info("ignoring unsupported wise event type", "event_type", event.EventType)
		return AcceptResult{Ignored: true}, nil
	}

	// Parse errors surface in the worker, which dead-letters the delivery.
	transferEvent, _ := event.ToTransferEvent()

	delivery := &domain.WebhookDelivery{
		ID:         uuid.New(),
		EventType:  event.EventType,
		RoutingKey: routingKey,
		TransferID: transferEvent.TransferID,
		Payload:    json.RawMessage(body),
		Status:     domain.DeliveryStatusPending,
	}
	if err := s.repo.CreateWebhookDelivery(ctx, delivery); err != nil {
		return AcceptResult{}, fmt.Errorf("record webhook delivery: %w", err)
	}

	if err := s.queue.Publish(ctx, delivery, 1); err != nil {
		// The row is durable; hand it to the retry sweeper instead of failing the provider.
		s.logger.Warn("failed to queue webhook delivery; deferring to sweeper", "delivery_id", delivery.ID, "error", err)
		if markErr := s.repo.MarkDeliveryRetrying(ctx, delivery.ID, 0, err.Error(), time.Now().UTC()); markErr != nil {
			return AcceptResult{Delivery: delivery}, fmt.Errorf("defer webhook delivery: %w", markErr)
		}
		return AcceptResult{Delivery: delivery, Deferred: true}, nil
	}

	s.logger.Info("webhook delivery queued",
		"delivery_id", delivery.ID,
		"event_type", delivery.EventType,
		"transfer_id", delivery.TransferID,
	)
	return AcceptResult{Delivery: delivery}, nil
}

// DeliveryAdmin serves the operator endpoints over dead-lettered deliveries.
type DeliveryAdmin struct {
	repo   store.Repository
	queue  DeliveryPublisher
	logger *slog.Logger
}

func NewDeliveryAdmin(repo store.Repository, queue DeliveryPublisher, logger *slog.Logger) *DeliveryAdmin {
	return &DeliveryAdmin{repo: repo, queue: queue, logger: logger}
}

func (a *DeliveryAdmin) ListDead(ctx context.Context, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = defaultDeadListLimit
	}
	if limit > maxDeadListLimit {
		limit = maxDeadListLimit
	}
	return a.repo.ListDeadDeliveries(ctx, limit)
}

// Replay gives a dead delivery a fresh attempt budget and queues it.
func (a *DeliveryAdmin) Replay(ctx context.Context, deliveryID uuid.UUID, operator string) (*domain.WebhookDelivery, error) {
	delivery, err := a.repo.ResetDeliveryForReplay(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := a.queue.Publish(ctx, delivery, 1); err != nil {
		a.logger.Warn("failed to queue replayed delivery; deferring to sweeper", "delivery_id", delivery.ID, "error", err)
		if markErr := a.repo.MarkDeliveryRetrying(ctx, delivery.ID, 0, err.Error(), time.Now().UTC()); markErr != nil {
			return nil, markErr
		}
	}
	a.logger.Info("dead delivery replayed", "delivery_id", delivery.ID, "operator", operator)
	return delivery, nil
}
