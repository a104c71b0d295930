package service

import (
	"context"
	"fmt"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepLimit    = 100
)

// Sweeper is the periodic backstop behind the delay machinery: it re-enqueues
// due dispatch retries, releases scheduled notifications, and revives webhook
// deliveries waiting on the exponential ladder.
type Sweeper struct {
	notifications repository.NotificationRepository
	deliveries    repository.WebhookDeliveryRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
}

func NewSweeper(
	notifications repository.NotificationRepository,
	deliveries repository.WebhookDeliveryRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*Sweeper, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("webhook delivery repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		notifications: notifications,
		deliveries:    deliveries,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial sweep so already-due work does not wait for the first
	// ticker edge.
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if err := s.sweepDueRetries(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep of due retries failed", zap.Error(err))
	}
	if err := s.sweepDueScheduled(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep of scheduled notifications failed", zap.Error(err))
	}
	if err := s.sweepDueWebhookRetries(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sweep of webhook retries failed", zap.Error(err))
	}
}

func (s *Sweeper) sweepDueRetries(ctx context.Context) error {
	due, err := s.notifications.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		notification := due[i]
		if notification.NextRetryAt == nil {
			continue
		}
		msg := queue.TaskMessage{
			Task:           queue.TaskSendNotification,
			NotificationID: notification.ID,
			Priority:       notification.Priority,
		}
		if err := s.publisher.Publish(ctx, queue.QueueDispatch, msg); err != nil {
			s.logger.Error("failed to enqueue retry dispatch",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}

		// Guarded by the slot value read during the scan: if the task was
		// already consumed and failed again, its new slot survives.
		if err := s.notifications.ClearRetrySlot(ctx, notification.ID, *notification.NextRetryAt); err != nil {
			s.logger.Error("failed to clear retry slot after enqueue",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Sweeper) sweepDueScheduled(ctx context.Context) error {
	due, err := s.notifications.GetDueScheduled(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due scheduled notifications: %w", err)
	}

	for i := range due {
		notification := due[i]
		if notification.ScheduledAt == nil {
			continue
		}
		msg := queue.TaskMessage{
			Task:           queue.TaskSendNotification,
			NotificationID: notification.ID,
			Priority:       notification.Priority,
		}
		if err := s.publisher.Publish(ctx, queue.QueueDispatch, msg); err != nil {
			s.logger.Error("failed to enqueue scheduled notification",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.notifications.ReleaseScheduled(ctx, notification.ID, *notification.ScheduledAt); err != nil {
			s.logger.Error("failed to clear schedule after enqueue",
				zap.String("notificationId", notification.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Sweeper) sweepDueWebhookRetries(ctx context.Context) error {
	due, err := s.deliveries.GetDueRetries(ctx, time.Now().UTC(), s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due webhook retries: %w", err)
	}

	for i := range due {
		delivery := due[i]
		if delivery.NextRetryAt == nil {
			continue
		}
		msg := queue.TaskMessage{
			Task:           queue.TaskSendWebhook,
			NotificationID: delivery.NotificationID,
			WebhookID:      delivery.WebhookID,
			EventType:      delivery.EventType,
			Priority:       domain.PriorityNormal,
		}
		if err := s.publisher.Publish(ctx, queue.QueueWebhook, msg); err != nil {
			s.logger.Error("failed to enqueue webhook retry",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.deliveries.ClearRetrySlot(ctx, delivery.ID, *delivery.NextRetryAt); err != nil {
			s.logger.Error("failed to clear webhook retry slot after enqueue",
				zap.String("deliveryId", delivery.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
