package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/repository"
	"github.com/selimunal/notification-relay/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Create(ctx context.Context, params service.CreateParams) (*domain.Notification, error)
	Get(ctx context.Context, id string) (*domain.Notification, error)
	Attempts(ctx context.Context, id string) ([]domain.DeliveryAttempt, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	Cancel(ctx context.Context, id string) (*domain.Notification, error)
	HandleProviderEvent(ctx context.Context, event service.ProviderEvent) error
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Get("/notifications/:id/attempts", h.GetAttempts)
	v1.Post("/notifications/:id/cancel", h.CancelNotification)
	v1.Get("/notifications", h.ListNotifications)
	v1.Post("/callbacks/:source", h.ProviderCallback)

	return nil
}

type createNotificationRequest struct {
	ServiceID   string            `json:"serviceId"`
	Channel     string            `json:"channel"`
	Priority    string            `json:"priority"`
	Recipient   string            `json:"recipient"`
	Content     string            `json:"content"`
	Subject     string            `json:"subject"`
	ProviderID  string            `json:"providerId"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
	Metadata    map[string]string `json:"metadata"`
}

type providerCallbackRequest struct {
	ExternalID string     `json:"externalId"`
	Event      string     `json:"event"`
	OccurredAt *time.Time `json:"occurredAt"`
}

type notificationResponse struct {
	ID           string            `json:"id"`
	ServiceID    string            `json:"serviceId"`
	Channel      string            `json:"channel"`
	Priority     string            `json:"priority"`
	Recipient    string            `json:"recipient"`
	Content      string            `json:"content"`
	Subject      string            `json:"subject,omitempty"`
	Status       string            `json:"status"`
	ProviderID   string            `json:"providerId,omitempty"`
	ExternalIDs  map[string]string `json:"externalIds,omitempty"`
	RetryCount   int               `json:"retryCount"`
	MaxRetries   int               `json:"maxRetries"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	NextRetryAt  *time.Time        `json:"nextRetryAt,omitempty"`
	ScheduledAt  *time.Time        `json:"scheduledAt,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt  *time.Time        `json:"deliveredAt,omitempty"`
	FailedAt     *time.Time        `json:"failedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Status        string    `json:"status"`
	ProviderName  string    `json:"providerName,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	params, err := requestToCreateParams(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.Get(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) GetAttempts(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.service.Attempts(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, attemptResponse{
			ID:            attempt.ID,
			AttemptNumber: attempt.AttemptNumber,
			Status:        attempt.Status.String(),
			ProviderName:  attempt.ProviderName,
			Error:         attempt.Error,
			CreatedAt:     attempt.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": id,
		"attempts":       responses,
	})
}

func (h *NotificationHandler) CancelNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

// ProviderCallback ingests delivery status events pushed by an upstream
// provider. Unknown external ids map to 404 so a misrouted callback is
// visible on the provider side.
func (h *NotificationHandler) ProviderCallback(c *fiber.Ctx) error {
	source := strings.TrimSpace(c.Params("source"))
	if source == "" {
		return fiber.NewError(fiber.StatusBadRequest, "callback source is required")
	}

	var req providerCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return toHTTPError(fmt.Errorf("%w: externalId is required", domain.ErrValidation))
	}
	if strings.TrimSpace(req.Event) == "" {
		return toHTTPError(fmt.Errorf("%w: event is required", domain.ErrValidation))
	}

	event := service.ProviderEvent{
		Source:     source,
		ExternalID: strings.TrimSpace(req.ExternalID),
		Event:      strings.TrimSpace(req.Event),
	}
	if req.OccurredAt != nil {
		event.OccurredAt = *req.OccurredAt
	}

	if err := h.service.HandleProviderEvent(c.Context(), event); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "accepted",
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawService := strings.TrimSpace(c.Query("serviceId")); rawService != "" {
		params.ServiceID = &rawService
	}
	if rawRecipient := strings.TrimSpace(c.Query("recipient")); rawRecipient != "" {
		params.Recipient = &rawRecipient
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestToCreateParams(req createNotificationRequest) (service.CreateParams, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return service.CreateParams{}, err
	}

	priority := domain.PriorityNormal
	if strings.TrimSpace(req.Priority) != "" {
		priority, err = domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return service.CreateParams{}, err
		}
	}

	return service.CreateParams{
		ServiceID:   strings.TrimSpace(req.ServiceID),
		Channel:     channel,
		Priority:    priority,
		Recipient:   strings.TrimSpace(req.Recipient),
		Content:     req.Content,
		Subject:     strings.TrimSpace(req.Subject),
		ProviderID:  strings.TrimSpace(req.ProviderID),
		ScheduledAt: req.ScheduledAt,
		Metadata:    req.Metadata,
	}, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		ServiceID:    n.ServiceID,
		Channel:      n.Channel.String(),
		Priority:     n.Priority.String(),
		Recipient:    n.Recipient,
		Content:      n.Content,
		Subject:      n.Subject,
		Status:       n.Status.String(),
		ProviderID:   n.ProviderID,
		ExternalIDs:  n.ExternalIDs,
		RetryCount:   n.RetryCount,
		MaxRetries:   domain.MaxRetries,
		ErrorMessage: n.ErrorMessage,
		NextRetryAt:  n.NextRetryAt,
		ScheduledAt:  n.ScheduledAt,
		SentAt:       n.SentAt,
		DeliveredAt:  n.DeliveredAt,
		FailedAt:     n.FailedAt,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrProviderNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
