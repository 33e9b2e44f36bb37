package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/payout-webhook-service/internal/domain"
	"github.com/transfa/payout-webhook-service/internal/store"
)

const defaultSweepBatchSize = 50

// DeliveryPublisher puts a recorded delivery back on the queue.
type DeliveryPublisher interface {
	Publish(ctx context.Context, delivery *domain.WebhookDelivery, attempt int) error
}

// RetrySweeper re-publishes deliveries whose back-off has elapsed.
type RetrySweeper struct {
	repo      store.Repository
	queue     DeliveryPublisher
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

func NewRetrySweeper(repo store.Repository, queue DeliveryPublisher, batchSize int, logger *slog.Logger) *RetrySweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &RetrySweeper{
		repo:      repo,
		queue:     queue,
		batchSize: batchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run is the cron entry point.
func (s *RetrySweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	published, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("delivery retry sweep failed", "error", err)
		return
	}
	if published > 0 {
		s.logger.Info("delivery retry sweep finished", "published", published)
	}
}

// Sweep claims due deliveries and publishes each for its next attempt. A delivery
// that cannot be published goes back to retrying with the same attempt count.
func (s *RetrySweeper) Sweep(ctx context.Context) (int, error) {
	deliveries, err := s.repo.ClaimDueDeliveries(ctx, s.batchSize, s.now())
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range deliveries {
		delivery := &deliveries[i]
		nextAttempt := delivery.Attempts + 1

		if err := s.queue.Publish(ctx, delivery, nextAttempt); err != nil {
			s.logger.Warn("failed to republish delivery", "delivery_id", delivery.ID, "attempt", nextAttempt, "error", err)
			retryAt := s.now().Add(RetryDelay(delivery.Attempts))
			if markErr := s.repo.MarkDeliveryRetrying(ctx, delivery.ID, delivery.Attempts, err.Error(), retryAt); markErr != nil {
				s.logger.Error("failed to reschedule delivery", "delivery_id", delivery.ID, "error", markErr)
			}
			continue
		}
		published++
	}
	return published, nil
}
