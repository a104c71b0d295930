package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/domain"
	"gorm.io/gorm"
)

// WebhookDeliveryRepository tracks the per-subscriber delivery rows that back
// the callback retry engine. One row exists per (webhook, notification) pair
// and is reused across event types so a subscriber never sees two concurrent
// delivery loops for the same notification.
type WebhookDeliveryRepository interface {
	GetOrCreate(ctx context.Context, webhookID, notificationID string, eventType domain.WebhookEventType) (*domain.WebhookDelivery, error)
	GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	ListByNotification(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error)
	RecordAttempt(ctx context.Context, d *domain.WebhookDelivery) error
	MarkFailed(ctx context.Context, id string, reason string) error
	ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error
	GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	FailNonTerminalByNotification(ctx context.Context, notificationID string, reason string) (int64, error)
}

type GormWebhookDeliveryRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormWebhookDeliveryRepo(db *gorm.DB) *GormWebhookDeliveryRepo {
	return &GormWebhookDeliveryRepo{db: db, now: time.Now}
}

// GetOrCreate returns the existing delivery row for the pair, resetting it to
// PENDING for the new event, or inserts a fresh one. The unique index on
// (webhook_id, notification_id) resolves concurrent creators.
func (r *GormWebhookDeliveryRepo) GetOrCreate(ctx context.Context, webhookID, notificationID string, eventType domain.WebhookEventType) (*domain.WebhookDelivery, error) {
	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("webhook_id = ? AND notification_id = ?", webhookID, notificationID).
		First(&model).Error
	if err == nil {
		if model.Status.IsTerminal() {
			// A recycled row carries a new event, so it starts a fresh
			// attempt ledger and a fresh retry budget; created_at anchors
			// the budget and must not be inherited from the settled event.
			now := r.now()
			updates := map[string]any{
				"event_type":           eventType,
				"status":               domain.WebhookDeliveryPending,
				"attempt_count":        0,
				"immediate_attempts":   0,
				"last_attempt_at":      nil,
				"next_retry_at":        nil,
				"acknowledged_at":      nil,
				"response_status_code": nil,
				"response_body":        nil,
				"error_message":        nil,
				"created_at":           now,
				"updated_at":           now,
			}
			if upErr := r.db.WithContext(ctx).
				Model(&WebhookDeliveryModel{}).
				Where("id = ?", model.ID).
				Updates(updates).Error; upErr != nil {
				return nil, upErr
			}
			model.EventType = eventType
			model.Status = domain.WebhookDeliveryPending
			model.AttemptCount = 0
			model.ImmediateAttempts = 0
			model.LastAttemptAt = nil
			model.NextRetryAt = nil
			model.AcknowledgedAt = nil
			model.ResponseStatusCode = nil
			model.ResponseBody = nil
			model.ErrorMessage = nil
			model.CreatedAt = now
			model.UpdatedAt = now
		}
		return deliveryModelToDomain(&model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := r.now()
	model = WebhookDeliveryModel{
		ID:             uuid.NewString(),
		WebhookID:      webhookID,
		NotificationID: notificationID,
		EventType:      eventType,
		Status:         domain.WebhookDeliveryPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		// Lost the race, load the winner's row.
		var existing WebhookDeliveryModel
		loadErr := r.db.WithContext(ctx).
			Where("webhook_id = ? AND notification_id = ?", webhookID, notificationID).
			First(&existing).Error
		if loadErr != nil {
			return nil, err
		}
		return deliveryModelToDomain(&existing), nil
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormWebhookDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	var model WebhookDeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormWebhookDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error) {
	var models []WebhookDeliveryModel
	err := r.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	deliveries := make([]domain.WebhookDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

// RecordAttempt persists attempt bookkeeping after a POST: counters, the last
// response, and the resulting delivery state. The guard refuses to touch rows
// that settled concurrently.
func (r *GormWebhookDeliveryRepo) RecordAttempt(ctx context.Context, d *domain.WebhookDelivery) error {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status NOT IN ?", d.ID, []domain.WebhookDeliveryStatus{
			domain.WebhookDeliveryAcknowledged,
			domain.WebhookDeliveryFailed,
		}).
		Updates(map[string]any{
			"status":               d.Status,
			"attempt_count":        d.AttemptCount,
			"immediate_attempts":   d.ImmediateAttempts,
			"last_attempt_at":      d.LastAttemptAt,
			"next_retry_at":        d.NextRetryAt,
			"acknowledged_at":      d.AcknowledgedAt,
			"response_status_code": d.ResponseStatusCode,
			"response_body":        d.ResponseBody,
			"error_message":        optionalString(d.ErrorMessage),
			"task_id":              optionalString(d.TaskID),
			"updated_at":           r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormWebhookDeliveryRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.WebhookDeliveryStatus{
			domain.WebhookDeliveryAcknowledged,
			domain.WebhookDeliveryFailed,
		}).
		Updates(map[string]any{
			"status":        domain.WebhookDeliveryFailed,
			"next_retry_at": nil,
			"error_message": optionalString(reason),
			"updated_at":    r.now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// ClearRetrySlot empties next_retry_at after the sweeper re-enqueued the
// delivery. The guard on the observed value keeps a slot written by an
// engine worker that already failed the republished task from being wiped.
func (r *GormWebhookDeliveryRepo) ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("id = ? AND next_retry_at = ?", id, retryAt).
		Update("next_retry_at", nil).Error
}

// GetDueRetries returns RETRYING deliveries whose scheduled retry time has
// passed. The sweeper uses this as a backstop when delayed tasks are lost.
func (r *GormWebhookDeliveryRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	var models []WebhookDeliveryModel
	query := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			domain.WebhookDeliveryRetrying, now).
		Order("next_retry_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	deliveries := make([]domain.WebhookDelivery, 0, len(models))
	for i := range models {
		deliveries = append(deliveries, *deliveryModelToDomain(&models[i]))
	}
	return deliveries, nil
}

// FailNonTerminalByNotification force-fails every pending or retrying
// delivery for a notification, used when the notification is cancelled.
func (r *GormWebhookDeliveryRepo) FailNonTerminalByNotification(ctx context.Context, notificationID string, reason string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&WebhookDeliveryModel{}).
		Where("notification_id = ? AND status NOT IN ?", notificationID, []domain.WebhookDeliveryStatus{
			domain.WebhookDeliveryAcknowledged,
			domain.WebhookDeliveryFailed,
		}).
		Updates(map[string]any{
			"status":        domain.WebhookDeliveryFailed,
			"next_retry_at": nil,
			"error_message": optionalString(reason),
			"updated_at":    r.now(),
		})
	return result.RowsAffected, result.Error
}
