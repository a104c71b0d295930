package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/selimunal/notification-relay/internal/domain"
)

type WebhookService interface {
	Create(ctx context.Context, serviceID, url, description string) (*domain.Webhook, error)
	Get(ctx context.Context, id string) (*domain.Webhook, error)
	ListByService(ctx context.Context, serviceID string) ([]domain.Webhook, error)
	Update(ctx context.Context, id, url, description string, isActive bool) (*domain.Webhook, error)
	Delete(ctx context.Context, id string) error
	Deliveries(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error)
}

type WebhookHandler struct {
	service WebhookService
}

func NewWebhookHandler(service WebhookService) (*WebhookHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("webhook service is required")
	}
	return &WebhookHandler{service: service}, nil
}

func RegisterWebhookRoutes(router fiber.Router, service WebhookService) error {
	h, err := NewWebhookHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/webhooks", h.CreateWebhook)
	v1.Get("/webhooks", h.ListWebhooks)
	v1.Get("/webhooks/:id", h.GetWebhook)
	v1.Put("/webhooks/:id", h.UpdateWebhook)
	v1.Delete("/webhooks/:id", h.DeleteWebhook)
	v1.Get("/notifications/:id/deliveries", h.ListDeliveries)

	return nil
}

type createWebhookRequest struct {
	ServiceID   string `json:"serviceId"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type updateWebhookRequest struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	IsActive    *bool  `json:"isActive"`
}

type webhookResponse struct {
	ID          string    `json:"id"`
	ServiceID   string    `json:"serviceId"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type deliveryResponse struct {
	ID                 string     `json:"id"`
	WebhookID          string     `json:"webhookId"`
	EventType          string     `json:"eventType"`
	Status             string     `json:"status"`
	AttemptCount       int        `json:"attemptCount"`
	ImmediateAttempts  int        `json:"immediateAttempts"`
	LastAttemptAt      *time.Time `json:"lastAttemptAt,omitempty"`
	NextRetryAt        *time.Time `json:"nextRetryAt,omitempty"`
	AcknowledgedAt     *time.Time `json:"acknowledgedAt,omitempty"`
	ResponseStatusCode *int       `json:"responseStatusCode,omitempty"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

func (h *WebhookHandler) CreateWebhook(c *fiber.Ctx) error {
	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	webhook, err := h.service.Create(c.Context(), strings.TrimSpace(req.ServiceID), strings.TrimSpace(req.URL), strings.TrimSpace(req.Description))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) ListWebhooks(c *fiber.Ctx) error {
	serviceID := strings.TrimSpace(c.Query("serviceId"))
	if serviceID == "" {
		return toHTTPError(fmt.Errorf("%w: serviceId query parameter is required", domain.ErrValidation))
	}

	webhooks, err := h.service.ListByService(c.Context(), serviceID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]webhookResponse, 0, len(webhooks))
	for i := range webhooks {
		responses = append(responses, toWebhookResponse(&webhooks[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": responses,
	})
}

func (h *WebhookHandler) GetWebhook(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	webhook, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) UpdateWebhook(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	webhook, err := h.service.Update(c.Context(), id, strings.TrimSpace(req.URL), strings.TrimSpace(req.Description), isActive)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toWebhookResponse(webhook))
}

func (h *WebhookHandler) DeleteWebhook(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Delete(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WebhookHandler) ListDeliveries(c *fiber.Ctx) error {
	notificationID := strings.TrimSpace(c.Params("id"))
	deliveries, err := h.service.Deliveries(c.Context(), notificationID)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]deliveryResponse, 0, len(deliveries))
	for _, delivery := range deliveries {
		responses = append(responses, deliveryResponse{
			ID:                 delivery.ID,
			WebhookID:          delivery.WebhookID,
			EventType:          delivery.EventType.String(),
			Status:             delivery.Status.String(),
			AttemptCount:       delivery.AttemptCount,
			ImmediateAttempts:  delivery.ImmediateAttempts,
			LastAttemptAt:      delivery.LastAttemptAt,
			NextRetryAt:        delivery.NextRetryAt,
			AcknowledgedAt:     delivery.AcknowledgedAt,
			ResponseStatusCode: delivery.ResponseStatusCode,
			ErrorMessage:       delivery.ErrorMessage,
			CreatedAt:          delivery.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": notificationID,
		"deliveries":     responses,
	})
}

func toWebhookResponse(w *domain.Webhook) webhookResponse {
	if w == nil {
		return webhookResponse{}
	}

	return webhookResponse{
		ID:          w.ID,
		ServiceID:   w.ServiceID,
		URL:         w.URL,
		Description: w.Description,
		IsActive:    w.IsActive,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}
