package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/observability"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// immediateAttemptLimit is how many zero-delay attempts run in total
	// before the engine falls back to the exponential ladder, counting the
	// initial POST. Attempt 7 is the first delayed one.
	immediateAttemptLimit = 6

	webhookBaseDelay   = 60 * time.Second
	webhookMaxDelay    = 3 * time.Hour
	webhookRetryBudget = 3 * time.Hour
	webhookPostTimeout = 30 * time.Second

	maxStoredResponseBytes = 2048
)

// WebhookEngine consumes webhook tasks and POSTs lifecycle events to
// subscriber endpoints, retrying each delivery independently.
type WebhookEngine struct {
	webhooks      repository.WebhookRepository
	deliveries    repository.WebhookDeliveryRepository
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	consumer      queue.Consumer
	publisher     queue.Publisher
	client        *resty.Client
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewWebhookEngine(
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	concurrency int,
	logger *zap.Logger,
) (*WebhookEngine, error) {
	if webhooks == nil || deliveries == nil || notifications == nil || attempts == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if consumer == nil || publisher == nil {
		return nil, fmt.Errorf("queue consumer and publisher are required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New()
	client.SetTimeout(webhookPostTimeout)
	client.SetRetryCount(0)

	return &WebhookEngine{
		webhooks:      webhooks,
		deliveries:    deliveries,
		notifications: notifications,
		attempts:      attempts,
		consumer:      consumer,
		publisher:     publisher,
		client:        client,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (s *WebhookEngine) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the webhook queue until context cancellation.
func (s *WebhookEngine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("webhook worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.QueueWebhook, s.processTask)
			if err != nil {
				s.logger.Error("webhook worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("webhook worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WebhookEngine) processTask(ctx context.Context, msg queue.TaskMessage) error {
	delivery, err := s.deliveries.GetOrCreate(ctx, msg.WebhookID, msg.NotificationID, msg.EventType)
	if err != nil {
		return fmt.Errorf("failed to load webhook delivery: %w", err)
	}
	if delivery.Status.IsTerminal() {
		return nil
	}

	now := s.now().UTC()
	if now.Sub(delivery.CreatedAt) > webhookRetryBudget {
		return s.failDelivery(ctx, delivery, msg.EventType, "retry budget exhausted")
	}

	webhook, err := s.webhooks.GetByID(ctx, msg.WebhookID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failDelivery(ctx, delivery, msg.EventType, "webhook removed")
		}
		return fmt.Errorf("failed to load webhook: %w", err)
	}
	if !webhook.IsActive {
		return s.failDelivery(ctx, delivery, msg.EventType, "webhook deactivated")
	}

	notification, err := s.notifications.GetByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.failDelivery(ctx, delivery, msg.EventType, "notification removed")
		}
		return fmt.Errorf("failed to load notification: %w", err)
	}

	payload := BuildEventPayload(notification, delivery.EventType, now)
	if delivery.EventType == domain.EventDelivered || delivery.EventType == domain.EventFailed {
		payload.ProviderResponse = s.lastProviderResponse(ctx, notification.ID)
	}
	attemptNumber := delivery.AttemptCount + 1

	postStart := s.now()
	response, postErr := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", "notification").
		SetHeader("X-Event-Type", delivery.EventType.String()).
		SetHeader("X-Notification-Id", notification.ID).
		SetHeader("X-Webhook-Retry", strconv.Itoa(attemptNumber)).
		SetBody(payload).
		Post(webhook.URL)
	if s.metrics != nil {
		s.metrics.ObserveWebhookAttemptDuration(delivery.EventType.String(), s.now().Sub(postStart))
	}

	delivery.AttemptCount = attemptNumber
	lastAttempt := s.now().UTC()
	delivery.LastAttemptAt = &lastAttempt
	delivery.NextRetryAt = nil

	if postErr != nil {
		return s.handleAttemptFailure(ctx, delivery, notification, fmt.Sprintf("request failed: %v", postErr))
	}

	statusCode := response.StatusCode()
	code := statusCode
	delivery.ResponseStatusCode = &code
	delivery.ResponseBody = truncatedBody(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		ackAt := s.now().UTC()
		delivery.Status = domain.WebhookDeliveryAcknowledged
		delivery.AcknowledgedAt = &ackAt
		delivery.ErrorMessage = ""
		if err := s.deliveries.RecordAttempt(ctx, delivery); err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("failed to record acknowledged delivery: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncWebhookDelivery(delivery.EventType.String(), "acknowledged")
		}
		return nil
	}

	// Any 4xx except 429 means the endpoint understood and rejected the
	// event; repeating it cannot help.
	if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError &&
		statusCode != http.StatusTooManyRequests {
		delivery.Status = domain.WebhookDeliveryFailed
		delivery.ErrorMessage = fmt.Sprintf("endpoint returned status %d", statusCode)
		if err := s.deliveries.RecordAttempt(ctx, delivery); err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("failed to record rejected delivery: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncWebhookDelivery(delivery.EventType.String(), "rejected")
		}
		return nil
	}

	return s.handleAttemptFailure(ctx, delivery, notification, fmt.Sprintf("endpoint returned status %d", statusCode))
}

// lastProviderResponse returns the raw provider response of the newest
// attempt that captured one. Payload enrichment is best effort; lookup
// failures leave the field empty.
func (s *WebhookEngine) lastProviderResponse(ctx context.Context, notificationID string) string {
	attempts, err := s.attempts.GetByNotificationID(ctx, notificationID)
	if err != nil {
		s.logger.Debug("failed to load attempts for webhook payload",
			zap.String("notificationId", notificationID),
			zap.Error(err),
		)
		return ""
	}
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].RawResponse != nil && *attempts[i].RawResponse != "" {
			return *attempts[i].RawResponse
		}
	}
	return ""
}

// handleAttemptFailure schedules the next try: zero-delay republish while
// immediate attempts remain, the exponential ladder after that, and a final
// FAILED once the schedule would leave the 3 hour budget.
func (s *WebhookEngine) handleAttemptFailure(
	ctx context.Context,
	delivery *domain.WebhookDelivery,
	notification *domain.Notification,
	reason string,
) error {
	delivery.ErrorMessage = reason
	now := s.now().UTC()

	// AttemptCount already includes the attempt that just failed, so the
	// sixth failure moves straight to the delayed phase.
	if delivery.AttemptCount < immediateAttemptLimit {
		delivery.ImmediateAttempts++
		delivery.Status = domain.WebhookDeliveryRetrying
		delivery.NextRetryAt = nil
		if err := s.deliveries.RecordAttempt(ctx, delivery); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil
			}
			return fmt.Errorf("failed to record webhook attempt: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncWebhookDelivery(delivery.EventType.String(), "retrying")
		}

		msg := queue.TaskMessage{
			Task:           queue.TaskSendWebhook,
			NotificationID: delivery.NotificationID,
			WebhookID:      delivery.WebhookID,
			EventType:      delivery.EventType,
			Priority:       notification.Priority,
		}
		if err := s.publisher.Publish(ctx, queue.QueueWebhook, msg); err != nil {
			return fmt.Errorf("failed to republish webhook task: %w", err)
		}
		return nil
	}

	nextRetryAt := now.Add(webhookRetryDelay(delivery.AttemptCount))
	if nextRetryAt.After(delivery.CreatedAt.Add(webhookRetryBudget)) {
		return s.failDelivery(ctx, delivery, delivery.EventType, "retry budget exhausted")
	}

	delivery.Status = domain.WebhookDeliveryRetrying
	delivery.NextRetryAt = &nextRetryAt
	if err := s.deliveries.RecordAttempt(ctx, delivery); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to record webhook attempt: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncWebhookDelivery(delivery.EventType.String(), "retrying")
	}
	return nil
}

func (s *WebhookEngine) failDelivery(ctx context.Context, delivery *domain.WebhookDelivery, event domain.WebhookEventType, reason string) error {
	err := s.deliveries.MarkFailed(ctx, delivery.ID, reason)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("failed to mark webhook delivery failed: %w", err)
	}

	s.logger.Warn("webhook delivery failed",
		zap.String("deliveryId", delivery.ID),
		zap.String("webhookId", delivery.WebhookID),
		zap.String("notificationId", delivery.NotificationID),
		zap.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.IncWebhookDelivery(event.String(), "failed")
	}
	return nil
}

// webhookRetryDelay computes the delayed-phase wait after attemptCount tries.
func webhookRetryDelay(attemptCount int) time.Duration {
	exponent := attemptCount - immediateAttemptLimit
	if exponent < 0 {
		exponent = 0
	}
	if exponent > 30 {
		exponent = 30
	}

	delay := time.Duration(math.Pow(2, float64(exponent))) * webhookBaseDelay
	if delay > webhookMaxDelay {
		delay = webhookMaxDelay
	}
	return delay
}

func truncatedBody(body string) *string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if len(body) > maxStoredResponseBytes {
		body = body[:maxStoredResponseBytes]
	}
	return &body
}
