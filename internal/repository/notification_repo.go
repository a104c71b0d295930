package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	ServiceID *string
	Status    *domain.Status
	Channel   *domain.Channel
	Recipient *string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error)
	FindDuplicate(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error)
	FindByExternalID(ctx context.Context, key string, value string) (*domain.Notification, error)
	MarkSending(ctx context.Context, id string, taskID string) (*domain.Notification, error)
	ApplyStatus(ctx context.Context, id string, from domain.Status, to domain.Status, errorMessage string) (bool, error)
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error
	MarkRetriesExhausted(ctx context.Context, id string, retryCount int, errorMessage string) error
	MarkFailed(ctx context.Context, id string, errorMessage string) (bool, error)
	MarkCancelled(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	SetExternalIDs(ctx context.Context, id string, externalIDs map[string]string) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Notification, error)
	GetDueScheduled(ctx context.Context, limit int) ([]domain.Notification, error)
	ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error
	ReleaseScheduled(ctx context.Context, id string, scheduledAt time.Time) error
}

type GormNotificationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db, now: time.Now}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.ServiceID != nil {
		query = query.Where("service_id = ?", *params.ServiceID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Channel != nil {
		query = query.Where("channel = ?", *params.Channel)
	}
	if params.Recipient != nil {
		query = query.Where("recipient = ?", *params.Recipient)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, total, nil
}

// FindDuplicate returns the oldest non-FAILED notification with the same
// fingerprint created inside the dedup window, or ErrNotFound. Oldest-first
// ordering (id as tie-break) makes the winner of two racing identical
// creates deterministic for the caller's post-insert check.
func (r *GormNotificationRepo) FindDuplicate(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND status <> ? AND created_at >= ?",
			fingerprint, domain.StatusFailed, r.now().UTC().Add(-window)).
		Order("created_at ASC, id ASC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// FindByExternalID matches a notification whose structured external id map
// contains the given provider-assigned id under the given key.
func (r *GormNotificationRepo) FindByExternalID(ctx context.Context, key string, value string) (*domain.Notification, error) {
	fragment, err := json.Marshal(map[string]string{key: value})
	if err != nil {
		return nil, fmt.Errorf("failed to build external id fragment: %w", err)
	}

	var model NotificationModel
	err = r.db.WithContext(ctx).
		Where("external_ids @> ?", string(fragment)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

// MarkSending moves a dispatchable row to SENDING and records the executing
// task id in one guarded statement, so a cancellation committing between a
// read and a write can never be overwritten. Nil result means the
// notification is no longer dispatchable and the caller must treat the run
// as a no-op.
func (r *GormNotificationRepo) MarkSending(ctx context.Context, id string, taskID string) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{
			domain.StatusPending, domain.StatusQueued,
		}).
		Updates(map[string]any{
			"status":  domain.StatusSending,
			"task_id": taskID,
			"sent_at": r.now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}

	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	// Zero rows affected means the pickup was stale or a duplicate.
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return notificationModelToDomain(&model), nil
}

// ApplyStatus performs a guarded transition from an expected status. The
// boolean result reports whether the row was updated; false means the status
// moved underneath the caller and the write was skipped.
func (r *GormNotificationRepo) ApplyStatus(ctx context.Context, id string, from domain.Status, to domain.Status, errorMessage string) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: cannot transition %s to %s", domain.ErrConflict, from, to)
	}

	now := r.now().UTC()
	updates := map[string]any{"status": to}
	switch to {
	case domain.StatusSending:
		// QUEUED deliberately leaves sent_at empty: the stamp means a
		// provider was contacted, not that the row entered the queue.
		updates["sent_at"] = now
	case domain.StatusDelivered:
		updates["delivered_at"] = now
	case domain.StatusFailed:
		updates["failed_at"] = now
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ScheduleRetry moves a SENDING row back to QUEUED with its next retry slot.
func (r *GormNotificationRepo) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusSending).
		Updates(map[string]any{
			"status":        domain.StatusQueued,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"error_message": errorMessage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// MarkRetriesExhausted records the final retry count and cause without
// touching status; the terminal-marking task owns the FAILED transition.
func (r *GormNotificationRepo) MarkRetriesExhausted(ctx context.Context, id string, retryCount int, errorMessage string) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":   retryCount,
			"error_message": errorMessage,
		}).Error
}

// MarkFailed forces a terminal FAILED state unless the row is already
// absorbing. Returns whether the row was updated.
func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, errorMessage string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.Status{
			domain.StatusDelivered, domain.StatusCancelled, domain.StatusFailed,
		}).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"failed_at":     r.now().UTC(),
			"error_message": errorMessage,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkCancelled transitions any non-absorbing row to CANCELLED.
func (r *GormNotificationRepo) MarkCancelled(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status NOT IN ?", id, []domain.Status{
			domain.StatusDelivered, domain.StatusCancelled,
		}).
		Updates(map[string]any{
			"status":        domain.StatusCancelled,
			"next_retry_at": nil,
			"task_id":       nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Delete removes a row outright. Only the creation path uses it, to withdraw
// the losing insert of two identical creates racing past the dedup check.
func (r *GormNotificationRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Delete(&NotificationModel{}, "id = ?", id).Error
}

func (r *GormNotificationRepo) SetExternalIDs(ctx context.Context, id string, externalIDs map[string]string) error {
	encoded, err := json.Marshal(externalIDs)
	if err != nil {
		return fmt.Errorf("failed to encode external ids: %w", err)
	}
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("external_ids", string(encoded)).Error
}

func (r *GormNotificationRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			domain.StatusQueued, r.now().UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) GetDueScheduled(ctx context.Context, limit int) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
			domain.StatusPending, r.now().UTC()).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

// ClearRetrySlot empties next_retry_at after the sweeper re-enqueued the
// row. The guard on the observed value keeps a slot written by a consumer
// that already failed the republished task from being wiped.
func (r *GormNotificationRepo) ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND next_retry_at = ?", id, retryAt).
		Update("next_retry_at", nil).Error
}

// ReleaseScheduled empties scheduled_at after the sweeper released the row
// into the dispatch queue, guarded the same way as ClearRetrySlot.
func (r *GormNotificationRepo) ReleaseScheduled(ctx context.Context, id string, scheduledAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND scheduled_at = ?", id, scheduledAt).
		Update("scheduled_at", nil).Error
}
