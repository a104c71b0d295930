package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
	"go.uber.org/zap"
)

// TerminalMarker consumes terminal tasks and settles notifications into
// FAILED. Running it as its own queue consumer means the final state, the
// audit row, and the subscriber fanout survive a dispatcher crash.
type TerminalMarker struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	consumer      queue.Consumer
	fanout        *EventFanout
	logger        *zap.Logger
	now           func() time.Time
}

func NewTerminalMarker(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	fanout *EventFanout,
	logger *zap.Logger,
) (*TerminalMarker, error) {
	if notifications == nil || attempts == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TerminalMarker{
		notifications: notifications,
		attempts:      attempts,
		consumer:      consumer,
		fanout:        fanout,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *TerminalMarker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.consumer.Consume(ctx, queue.QueueTerminal, s.processTask)
}

func (s *TerminalMarker) processTask(ctx context.Context, msg queue.TaskMessage) error {
	updated, err := s.notifications.MarkFailed(ctx, msg.NotificationID, msg.Reason)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	if !updated {
		// Already delivered, cancelled, or failed; nothing to settle.
		s.logger.Info("skipping terminal mark for settled notification",
			zap.String("notificationId", msg.NotificationID),
		)
		return nil
	}

	if err := s.recordTerminalAttempt(ctx, msg.NotificationID, msg.Reason); err != nil {
		return err
	}

	notification, err := s.notifications.GetByID(ctx, msg.NotificationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to reload notification after terminal mark: %w", err)
	}

	s.logger.Warn("notification failed",
		zap.String("notificationId", notification.ID),
		zap.String("channel", notification.Channel.String()),
		zap.String("reason", msg.Reason),
	)

	if s.fanout != nil {
		s.fanout.Fanout(ctx, notification, domain.EventFailed)
	}
	return nil
}

// recordTerminalAttempt appends the closing audit row carrying the terminal
// cause, numbered after every provider attempt.
func (s *TerminalMarker) recordTerminalAttempt(ctx context.Context, notificationID, reason string) error {
	count, err := s.attempts.CountByNotificationID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to count attempts: %w", err)
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: notificationID,
		AttemptNumber:  int(count) + 1,
		Status:         domain.StatusFailed,
		Error:          &reason,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record terminal attempt: %w", err)
	}
	return nil
}
