package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/pkg/rabbitmq"
)

// Notifier hands investor notifications to the asynchronous mail pipeline.
type Notifier interface {
	Enqueue(ctx context.Context, notification domain.InvestorNotification) error
}

// QueueNotifier publishes notifications to a topic exchange, one routing key per template.
type QueueNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewQueueNotifier(publisher rabbitmq.Publisher, exchange string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, exchange: exchange}
}

func NotificationRoutingKey(template string) string {
	return "investor." + template
}

func (n *QueueNotifier) Enqueue(ctx context.Context, notification domain.InvestorNotification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	if err := n.publisher.Publish(ctx, n.exchange, NotificationRoutingKey(notification.Template), notification); err != nil {
		return fmt.Errorf("publish %s notification: %w", notification.Template, err)
	}
	return nil
}
