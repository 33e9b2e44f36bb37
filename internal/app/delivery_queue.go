package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/pkg/rabbitmq"
)

// Routing keys of the delivery exchange, one per handled event type.
const (
	RoutingKeyStateChange   = "wise.transfer.state_change"
	RoutingKeyRefund        = "wise.transfer.refund"
	RoutingKeyPayoutFailure = "wise.transfer.payout_failure"
)

// RoutingKeyForEventType maps a Wise event type to its delivery routing key.
func RoutingKeyForEventType(eventType string) (string, bool) {
	kind, ok := domain.KindForEventType(eventType)
	if !ok {
		return "", false
	}
	switch kind {
	case domain.TransferEventRefund:
		return RoutingKeyRefund, true
	case domain.TransferEventPayoutFailure:
		return RoutingKeyPayoutFailure, true
	default:
		return RoutingKeyStateChange, true
	}
}

// DeliveryQueue publishes recorded deliveries for the worker.
type DeliveryQueue struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewDeliveryQueue(publisher rabbitmq.Publisher, exchange string) *DeliveryQueue {
	return &DeliveryQueue{publisher: publisher, exchange: exchange}
}

// Publish sends the delivery for the given 1-based attempt.
func (q *DeliveryQueue) Publish(ctx context.Context, delivery *domain.WebhookDelivery, attempt int) error {
	var event domain.WiseWebhookEvent
	if err := json.Unmarshal(delivery.Payload, &event); err != nil {
		return fmt.Errorf("decode stored payload for delivery %s: %w", delivery.ID, err)
	}

	msg := domain.DeliveryMessage{
		DeliveryID: delivery.ID,
		Attempt:    attempt,
		Event:      event,
	}
	if err := q.publisher.Publish(ctx, q.exchange, delivery.RoutingKey, msg); err != nil {
		return fmt.Errorf("publish delivery %s: %w", delivery.ID, err)
	}
	return nil
}
