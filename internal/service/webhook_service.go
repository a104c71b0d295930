package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/repository"
)

// WebhookService manages subscriber endpoint registrations.
type WebhookService struct {
	webhooks     repository.WebhookRepository
	deliveries   repository.WebhookDeliveryRepository
	serviceUsers repository.ServiceUserRepository
	now          func() time.Time
}

func NewWebhookService(
	webhooks repository.WebhookRepository,
	deliveries repository.WebhookDeliveryRepository,
	serviceUsers repository.ServiceUserRepository,
) (*WebhookService, error) {
	if webhooks == nil || deliveries == nil || serviceUsers == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	return &WebhookService{
		webhooks:     webhooks,
		deliveries:   deliveries,
		serviceUsers: serviceUsers,
		now:          time.Now,
	}, nil
}

func (s *WebhookService) Create(ctx context.Context, serviceID, url, description string) (*domain.Webhook, error) {
	if err := checkServiceUser(ctx, s.serviceUsers, serviceID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	webhook := &domain.Webhook{
		ID:          uuid.NewString(),
		ServiceID:   serviceID,
		URL:         url,
		Description: description,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := webhook.Validate(); err != nil {
		return nil, err
	}
	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return nil, fmt.Errorf("failed to persist webhook: %w", err)
	}
	return webhook, nil
}

func (s *WebhookService) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	return s.webhooks.GetByID(ctx, id)
}

func (s *WebhookService) ListByService(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
	return s.webhooks.ListByService(ctx, serviceID)
}

func (s *WebhookService) Update(ctx context.Context, id, url, description string, isActive bool) (*domain.Webhook, error) {
	webhook, err := s.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	webhook.URL = url
	webhook.Description = description
	webhook.IsActive = isActive
	if err := webhook.Validate(); err != nil {
		return nil, err
	}

	if err := s.webhooks.Update(ctx, webhook); err != nil {
		return nil, err
	}
	return webhook, nil
}

func (s *WebhookService) Delete(ctx context.Context, id string) error {
	return s.webhooks.Delete(ctx, id)
}

// Deliveries lists the delivery history rows for one notification.
func (s *WebhookService) Deliveries(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error) {
	return s.deliveries.ListByNotification(ctx, notificationID)
}
