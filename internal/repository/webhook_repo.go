package repository

import (
	"context"
	"errors"

	"github.com/selimunal/notification-relay/internal/domain"
	"gorm.io/gorm"
)

type WebhookRepository interface {
	Create(ctx context.Context, w *domain.Webhook) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	ListByService(ctx context.Context, serviceID string) ([]domain.Webhook, error)
	ListActiveByService(ctx context.Context, serviceID string) ([]domain.Webhook, error)
	Update(ctx context.Context, w *domain.Webhook) error
	Delete(ctx context.Context, id string) error
}

type GormWebhookRepo struct {
	db *gorm.DB
}

func NewGormWebhookRepo(db *gorm.DB) *GormWebhookRepo {
	return &GormWebhookRepo{db: db}
}

func (r *GormWebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	model := webhookModelFromDomain(w)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if w != nil {
		*w = *webhookModelToDomain(model)
	}
	return nil
}

func (r *GormWebhookRepo) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	var model WebhookModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return webhookModelToDomain(&model), nil
}

func (r *GormWebhookRepo) ListByService(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("service_id = ?", serviceID))
}

func (r *GormWebhookRepo) ListActiveByService(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("service_id = ? AND is_active = ?", serviceID, true))
}

func (r *GormWebhookRepo) list(_ context.Context, query *gorm.DB) ([]domain.Webhook, error) {
	var models []WebhookModel
	if err := query.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	webhooks := make([]domain.Webhook, 0, len(models))
	for i := range models {
		webhooks = append(webhooks, *webhookModelToDomain(&models[i]))
	}
	return webhooks, nil
}

func (r *GormWebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	result := r.db.WithContext(ctx).
		Model(&WebhookModel{}).
		Where("id = ?", w.ID).
		Updates(map[string]any{
			"url":         w.URL,
			"description": optionalString(w.Description),
			"is_active":   w.IsActive,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the webhook together with its delivery rows.
func (r *GormWebhookRepo) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webhook_id = ?", id).Delete(&WebhookDeliveryModel{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ?", id).Delete(&WebhookModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
