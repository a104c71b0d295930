package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/observability"
	"github.com/selimunal/notification-relay/internal/provider"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/ratelimit"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// retryDelays is the dispatch retry ladder. Retry n waits delays[n-1], and
// later retries reuse the last rung.
var retryDelays = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// ProviderSelector resolves the adapter used to send a notification.
type ProviderSelector interface {
	Select(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error)
}

// Dispatcher consumes dispatch tasks, drives provider sends, and settles
// every outcome into the notification row plus an audit attempt.
type Dispatcher struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	consumer      queue.Consumer
	publisher     queue.Publisher
	selector      ProviderSelector
	rateLimiter   ratelimit.RateLimiter
	fanout        *EventFanout
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	publisher queue.Publisher,
	selector ProviderSelector,
	rateLimiter ratelimit.RateLimiter,
	fanout *EventFanout,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil || attempts == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if consumer == nil || publisher == nil {
		return nil, fmt.Errorf("queue consumer and publisher are required")
	}
	if selector == nil {
		return nil, fmt.Errorf("provider selector is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		attempts:      attempts,
		consumer:      consumer,
		publisher:     publisher,
		selector:      selector,
		rateLimiter:   rateLimiter,
		fanout:        fanout,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
	}, nil
}

func (s *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the dispatch queue until context cancellation.
func (s *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("dispatch worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, queue.QueueDispatch, s.processTask)
			if err != nil {
				s.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *Dispatcher) processTask(ctx context.Context, msg queue.TaskMessage) error {
	taskID := uuid.NewString()
	notification, err := s.notifications.MarkSending(ctx, msg.NotificationID, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("notification not found during pickup, skipping",
				zap.String("notificationId", msg.NotificationID),
			)
			return nil
		}
		return fmt.Errorf("failed to mark notification sending: %w", err)
	}

	// Nil means the row is cancelled, settled, or already being sent.
	if notification == nil {
		return nil
	}

	// A non-zero retry count means this pickup executes a scheduled retry.
	if notification.RetryCount > 0 && s.fanout != nil {
		s.fanout.Fanout(ctx, notification, domain.EventRetryAttempted)
	}

	channelName := strings.ToLower(notification.Channel.String())

	adapter, providerCfg, err := s.selector.Select(ctx, notification.Channel, notification.ProviderID)
	if err != nil {
		s.logger.Error("no provider available for notification",
			zap.String("notificationId", notification.ID),
			zap.String("channel", channelName),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.IncDispatchFailed(channelName, "no_provider")
		}
		return s.publishTerminal(ctx, notification, fmt.Sprintf("no usable provider: %v", err))
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, notification.Channel); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	attemptNumber := notification.RetryCount + 1
	sendStart := s.now()
	result, sendErr := provider.Send(ctx, adapter, notification.Channel, provider.Message{
		NotificationID: notification.ID,
		Recipient:      notification.Recipient,
		Content:        notification.Content,
		Subject:        notification.Subject,
		Metadata:       notification.Metadata,
	})
	if s.metrics != nil {
		s.metrics.ObserveProviderSendDuration(channelName, providerCfg.Name, s.now().Sub(sendStart))
	}

	outcome := domain.StatusDelivered
	if sendErr != nil {
		outcome = domain.StatusFailed
	} else if adapter.DeliversAsync() {
		outcome = domain.StatusQueued
	}
	if err := s.recordAttempt(ctx, notification, attemptNumber, providerCfg.Name, outcome, result, sendErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if sendErr == nil {
		return s.settleSuccess(ctx, notification, adapter, result, channelName)
	}

	return s.settleFailure(ctx, notification, attemptNumber, sendErr, channelName)
}

func (s *Dispatcher) settleSuccess(
	ctx context.Context,
	notification *domain.Notification,
	adapter provider.Provider,
	result *provider.SendResult,
	channelName string,
) error {
	if result != nil && len(result.MessageIDs) > 0 {
		merged := make(map[string]string, len(notification.ExternalIDs)+len(result.MessageIDs))
		for k, v := range notification.ExternalIDs {
			merged[k] = v
		}
		for k, v := range result.MessageIDs {
			merged[k] = v
		}
		if err := s.notifications.SetExternalIDs(ctx, notification.ID, merged); err != nil {
			return fmt.Errorf("failed to store external ids: %w", err)
		}
		notification.ExternalIDs = merged
	}

	// An async provider only accepted the message; the inbound callback
	// settles the final state and triggers subscriber fanout.
	if adapter.DeliversAsync() {
		if _, err := s.notifications.ApplyStatus(ctx, notification.ID, domain.StatusSending, domain.StatusQueued, ""); err != nil {
			return fmt.Errorf("failed to mark notification accepted by provider: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncDispatched(channelName, "accepted")
		}
		return nil
	}

	updated, err := s.notifications.ApplyStatus(ctx, notification.ID, domain.StatusSending, domain.StatusDelivered, "")
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncDispatched(channelName, "delivered")
	}

	if updated && s.fanout != nil {
		notification.Status = domain.StatusDelivered
		s.fanout.Fanout(ctx, notification, domain.EventDelivered)
	}
	return nil
}

func (s *Dispatcher) settleFailure(
	ctx context.Context,
	notification *domain.Notification,
	attemptNumber int,
	sendErr error,
	channelName string,
) error {
	transient := provider.IsTransient(sendErr)

	if transient && attemptNumber < domain.MaxRetries {
		nextRetryAt := s.now().UTC().Add(retryDelay(attemptNumber))
		err := s.notifications.ScheduleRetry(ctx, notification.ID, attemptNumber, nextRetryAt, sendErr.Error())
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				// Cancelled while sending; nothing more to do.
				return nil
			}
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRetryScheduled(channelName)
		}

		if s.fanout != nil {
			notification.Status = domain.StatusQueued
			notification.RetryCount = attemptNumber
			notification.NextRetryAt = &nextRetryAt
			notification.ErrorMessage = sendErr.Error()
			s.fanout.Fanout(ctx, notification, domain.EventRetryScheduled)
		}
		return nil
	}

	reason := sendErr.Error()
	if transient {
		reason = fmt.Sprintf("max retries exceeded: %s", sendErr.Error())
		if err := s.notifications.MarkRetriesExhausted(ctx, notification.ID, attemptNumber, reason); err != nil {
			return fmt.Errorf("failed to record exhausted retries: %w", err)
		}
		notification.RetryCount = attemptNumber
	}

	if s.metrics != nil {
		metricReason := "permanent_error"
		if transient {
			metricReason = "retry_exhausted"
		}
		s.metrics.IncDispatchFailed(channelName, metricReason)
	}

	return s.publishTerminal(ctx, notification, reason)
}

// publishTerminal hands the FAILED transition to the terminal queue so it
// survives a worker crash between settle and fanout.
func (s *Dispatcher) publishTerminal(ctx context.Context, notification *domain.Notification, reason string) error {
	msg := queue.TaskMessage{
		Task:           queue.TaskMarkFailed,
		NotificationID: notification.ID,
		Reason:         reason,
		Priority:       notification.Priority,
	}
	if err := s.publisher.Publish(ctx, queue.QueueTerminal, msg); err != nil {
		return fmt.Errorf("failed to enqueue terminal task: %w", err)
	}
	return nil
}

func (s *Dispatcher) recordAttempt(
	ctx context.Context,
	notification *domain.Notification,
	attemptNumber int,
	providerName string,
	outcome domain.Status,
	result *provider.SendResult,
	sendErr error,
) error {
	var rawResponse *string
	var attemptErr *string

	if result != nil && strings.TrimSpace(result.RawResponse) != "" {
		value := result.RawResponse
		rawResponse = &value
	}
	if sendErr != nil {
		value := sendErr.Error()
		attemptErr = &value
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: notification.ID,
		AttemptNumber:  attemptNumber,
		Status:         outcome,
		ProviderName:   providerName,
		RawResponse:    rawResponse,
		Error:          attemptErr,
		CreatedAt:      s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}

func retryDelay(retryNumber int) time.Duration {
	if retryNumber < 1 {
		retryNumber = 1
	}
	if retryNumber > len(retryDelays) {
		retryNumber = len(retryDelays)
	}
	return retryDelays[retryNumber-1]
}
