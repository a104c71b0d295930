package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
)

// EventPayload is the JSON body POSTed to subscriber endpoints.
type EventPayload struct {
	NotificationID    string `json:"notification_id"`
	EventType         string `json:"event_type"`
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	AttemptNumber     int    `json:"attempt_number"`
	MaxAttempts       int    `json:"max_attempts"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	NotificationType  string `json:"notification_type"`
	Recipient         string `json:"recipient"`
	NextRetryAt       string `json:"next_retry_at,omitempty"`
	ProviderResponse  string `json:"provider_response,omitempty"`
	ErrorDetails      string `json:"error_details,omitempty"`
}

// BuildEventPayload renders a notification lifecycle event for subscribers.
func BuildEventPayload(n *domain.Notification, event domain.WebhookEventType, at time.Time) EventPayload {
	remaining := domain.MaxRetries - n.RetryCount
	if remaining < 0 {
		remaining = 0
	}

	payload := EventPayload{
		NotificationID:    n.ID,
		EventType:         event.String(),
		Status:            n.Status.String(),
		Timestamp:         at.UTC().Format(time.RFC3339),
		AttemptNumber:     n.RetryCount + 1,
		MaxAttempts:       domain.MaxRetries + 1,
		AttemptsRemaining: remaining,
		NotificationType:  strings.ToLower(n.Channel.String()),
		Recipient:         n.Recipient,
	}

	if n.NextRetryAt != nil {
		payload.NextRetryAt = n.NextRetryAt.UTC().Format(time.RFC3339)
	}
	if event == domain.EventFailed || event == domain.EventRetryScheduled {
		payload.ErrorDetails = n.ErrorMessage
	}

	return payload
}

// EventFanout creates one delivery row per active subscriber and enqueues a
// webhook task for each. Fanout failures are logged, never propagated, so a
// broken subscriber cannot block the notification pipeline.
type EventFanout struct {
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
	publisher  queue.Publisher
	logger     *zap.Logger
}

func NewEventFanout(
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) *EventFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventFanout{
		webhooks:   webhooks,
		deliveries: deliveries,
		publisher:  publisher,
		logger:     logger,
	}
}

// Fanout enqueues the event for every active webhook of the owning service.
func (f *EventFanout) Fanout(ctx context.Context, n *domain.Notification, event domain.WebhookEventType) {
	if f == nil || n == nil {
		return
	}

	subscribers, err := f.webhooks.ListActiveByService(ctx, n.ServiceID)
	if err != nil {
		f.logger.Error("failed to list webhooks for event fanout",
			zap.String("notificationId", n.ID),
			zap.String("event", event.String()),
			zap.Error(err),
		)
		return
	}

	for i := range subscribers {
		webhook := subscribers[i]
		if _, err := f.deliveries.GetOrCreate(ctx, webhook.ID, n.ID, event); err != nil {
			f.logger.Error("failed to prepare webhook delivery",
				zap.String("notificationId", n.ID),
				zap.String("webhookId", webhook.ID),
				zap.Error(err),
			)
			continue
		}

		msg := queue.TaskMessage{
			Task:           queue.TaskSendWebhook,
			NotificationID: n.ID,
			WebhookID:      webhook.ID,
			EventType:      event,
			Priority:       n.Priority,
		}
		if err := f.publisher.Publish(ctx, queue.QueueWebhook, msg); err != nil {
			f.logger.Error("failed to enqueue webhook delivery",
				zap.String("notificationId", n.ID),
				zap.String("webhookId", webhook.ID),
				zap.Error(err),
			)
		}
	}
}

// mapProviderEvent translates a provider callback event name to the target
// notification status. Unknown events are rejected.
func mapProviderEvent(event string) (domain.Status, error) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "queued":
		return domain.StatusQueued, nil
	case "sent":
		return domain.StatusSending, nil
	case "delivered":
		return domain.StatusDelivered, nil
	case "bounced", "failed":
		return domain.StatusFailed, nil
	case "opened", "clicked", "seen":
		return domain.StatusSeen, nil
	default:
		return "", fmt.Errorf("%w: unknown provider event %q", domain.ErrValidation, event)
	}
}
