package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/dedup"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/observability"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
)

const defaultDedupWindow = 30 * time.Minute

// CreateParams carries a validated inbound send request.
type CreateParams struct {
	ServiceID   string
	Channel     domain.Channel
	Priority    domain.Priority
	Recipient   string
	Content     string
	Subject     string
	ProviderID  string
	ScheduledAt *time.Time
	Metadata    map[string]string
}

// ProviderEvent is a provider callback about an in-flight notification.
type ProviderEvent struct {
	Source     string
	ExternalID string
	Event      string
	OccurredAt time.Time
}

// NotificationService owns the notification lifecycle outside the worker
// pipeline: intake with dedup, reads, cancellation, and inbound provider
// callbacks.
type NotificationService struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	deliveries    repository.WebhookDeliveryRepository
	serviceUsers  repository.ServiceUserRepository
	publisher     queue.Publisher
	selector      ProviderSelector
	guard         dedup.Guard
	fanout        *EventFanout
	logger        *zap.Logger
	metrics       *observability.Metrics
	dedupWindow   time.Duration
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	deliveries repository.WebhookDeliveryRepository,
	serviceUsers repository.ServiceUserRepository,
	publisher queue.Publisher,
	selector ProviderSelector,
	guard dedup.Guard,
	fanout *EventFanout,
	dedupWindow time.Duration,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil || attempts == nil || deliveries == nil || serviceUsers == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if selector == nil {
		return nil, fmt.Errorf("provider selector is required")
	}
	if dedupWindow <= 0 {
		dedupWindow = defaultDedupWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		attempts:      attempts,
		deliveries:    deliveries,
		serviceUsers:  serviceUsers,
		publisher:     publisher,
		selector:      selector,
		guard:         guard,
		fanout:        fanout,
		logger:        logger,
		dedupWindow:   dedupWindow,
		now:           time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create accepts a send request, suppresses duplicates inside the dedup
// window, persists the notification, and enqueues dispatch unless the send
// is scheduled for later.
func (s *NotificationService) Create(ctx context.Context, params CreateParams) (*domain.Notification, error) {
	now := s.now().UTC()

	notification := &domain.Notification{
		ID:          uuid.NewString(),
		ServiceID:   params.ServiceID,
		Channel:     params.Channel,
		Priority:    params.Priority,
		Status:      domain.StatusPending,
		Recipient:   params.Recipient,
		Content:     params.Content,
		Subject:     params.Subject,
		ProviderID:  params.ProviderID,
		Metadata:    params.Metadata,
		ScheduledAt: params.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if notification.Priority == "" {
		notification.Priority = domain.PriorityNormal
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}

	if err := checkServiceUser(ctx, s.serviceUsers, params.ServiceID); err != nil {
		return nil, err
	}

	// Fail fast when an explicitly requested provider cannot serve the
	// channel; default selection is re-resolved at dispatch time.
	if params.ProviderID != "" {
		if _, _, err := s.selector.Select(ctx, params.Channel, params.ProviderID); err != nil {
			return nil, err
		}
	}

	notification.Fingerprint = dedup.Fingerprint(params.Channel, params.Recipient, params.Content, params.Subject)

	existing, err := s.notifications.FindDuplicate(ctx, notification.Fingerprint, s.dedupWindow)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing != nil {
		if s.metrics != nil {
			s.metrics.IncDuplicateSuppressed("outbound")
		}
		return nil, fmt.Errorf("%w: duplicate of notification %s", domain.ErrDuplicate, existing.ID)
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	// Backstop for two identical creates racing past the pre-check: both
	// inserts re-read the oldest surviving row, and the one that is not it
	// withdraws itself. The pre-check alone is check-then-insert and cannot
	// stop concurrent twins.
	winner, err := s.notifications.FindDuplicate(ctx, notification.Fingerprint, s.dedupWindow)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error("failed to verify dedup winner",
			zap.String("notificationId", notification.ID),
			zap.Error(err),
		)
	} else if winner != nil && winner.ID != notification.ID {
		if delErr := s.notifications.Delete(ctx, notification.ID); delErr != nil {
			s.logger.Error("failed to withdraw duplicate insert",
				zap.String("notificationId", notification.ID),
				zap.Error(delErr),
			)
		}
		if s.metrics != nil {
			s.metrics.IncDuplicateSuppressed("outbound")
		}
		return nil, fmt.Errorf("%w: duplicate of notification %s", domain.ErrDuplicate, winner.ID)
	}

	if notification.ScheduledAt != nil && notification.ScheduledAt.After(now) {
		s.logger.Info("notification scheduled",
			zap.String("notificationId", notification.ID),
			zap.Time("scheduledAt", *notification.ScheduledAt),
		)
		return notification, nil
	}

	if err := s.enqueueDispatch(ctx, notification); err != nil {
		return nil, err
	}

	s.logger.Info("notification accepted",
		zap.String("notificationId", notification.ID),
		zap.String("channel", notification.Channel.String()),
		zap.String("correlationId", observability.CorrelationID(ctx)),
	)
	return notification, nil
}

// checkServiceUser rejects requests from unknown or deactivated tenants.
func checkServiceUser(ctx context.Context, serviceUsers repository.ServiceUserRepository, serviceID string) error {
	user, err := serviceUsers.GetByID(ctx, serviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown service %s", domain.ErrValidation, serviceID)
		}
		return fmt.Errorf("failed to look up service: %w", err)
	}
	if !user.IsActive {
		return fmt.Errorf("%w: service %s is deactivated", domain.ErrValidation, serviceID)
	}
	return nil
}

func (s *NotificationService) enqueueDispatch(ctx context.Context, notification *domain.Notification) error {
	msg := queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: notification.ID,
		Priority:       notification.Priority,
	}
	if err := s.publisher.Publish(ctx, queue.QueueDispatch, msg); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	updated, err := s.notifications.ApplyStatus(ctx, notification.ID, domain.StatusPending, domain.StatusQueued, "")
	if err != nil {
		return fmt.Errorf("failed to mark notification queued: %w", err)
	}
	if updated {
		notification.Status = domain.StatusQueued
	}
	return nil
}

func (s *NotificationService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

func (s *NotificationService) Attempts(ctx context.Context, id string) ([]domain.DeliveryAttempt, error) {
	if _, err := s.notifications.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts.GetByNotificationID(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return s.notifications.List(ctx, params)
}

// Cancel stops further delivery work for a notification. Cancellation is
// cooperative: in-flight sends notice the CANCELLED row on their next guarded
// write and drop their work.
func (s *NotificationService) Cancel(ctx context.Context, id string) (*domain.Notification, error) {
	notification, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if notification.Status.IsAbsorbing() {
		return nil, fmt.Errorf("%w: notification is %s", domain.ErrConflict, notification.Status)
	}

	if err := s.notifications.MarkCancelled(ctx, id); err != nil {
		return nil, err
	}

	failed, err := s.deliveries.FailNonTerminalByNotification(ctx, id, "notification cancelled")
	if err != nil {
		s.logger.Error("failed to fail pending webhook deliveries on cancel",
			zap.String("notificationId", id),
			zap.Error(err),
		)
	} else if failed > 0 {
		s.logger.Info("cancelled pending webhook deliveries",
			zap.String("notificationId", id),
			zap.Int64("deliveries", failed),
		)
	}

	notification.Status = domain.StatusCancelled
	notification.NextRetryAt = nil
	notification.TaskID = ""

	if s.fanout != nil {
		s.fanout.Fanout(ctx, notification, domain.EventCancelled)
	}
	return notification, nil
}

// HandleProviderEvent applies an inbound provider callback to the matching
// notification. Redelivered callbacks are suppressed, unknown external ids
// rejected, and transitions the state machine forbids are ignored.
func (s *NotificationService) HandleProviderEvent(ctx context.Context, event ProviderEvent) error {
	target, err := mapProviderEvent(event.Event)
	if err != nil {
		return err
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}

	if s.guard != nil {
		key := dedup.InboundKey(event.Source, event.ExternalID, event.Event, occurredAt)
		fresh, err := s.guard.CheckAndMark(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to check inbound dedup: %w", err)
		}
		if !fresh {
			if s.metrics != nil {
				s.metrics.IncDuplicateSuppressed("inbound")
			}
			s.logger.Info("suppressing duplicate provider callback",
				zap.String("source", event.Source),
				zap.String("externalId", event.ExternalID),
				zap.String("event", event.Event),
			)
			return nil
		}
	}

	notification, err := s.notifications.FindByExternalID(ctx, event.Source, event.ExternalID)
	if err != nil {
		return err
	}

	if !domain.CanTransition(notification.Status, target) {
		s.logger.Info("ignoring provider event for settled notification",
			zap.String("notificationId", notification.ID),
			zap.String("from", notification.Status.String()),
			zap.String("event", event.Event),
		)
		return nil
	}

	errorMessage := ""
	if target == domain.StatusFailed {
		errorMessage = fmt.Sprintf("provider reported %s", event.Event)
	}

	updated, err := s.notifications.ApplyStatus(ctx, notification.ID, notification.Status, target, errorMessage)
	if err != nil {
		return err
	}
	if !updated {
		// Status moved underneath us; the newer writer owns the outcome.
		return nil
	}

	notification.Status = target
	notification.ErrorMessage = errorMessage

	if s.fanout != nil {
		switch target {
		case domain.StatusDelivered:
			s.fanout.Fanout(ctx, notification, domain.EventDelivered)
		case domain.StatusFailed:
			s.fanout.Fanout(ctx, notification, domain.EventFailed)
		}
	}
	return nil
}
