package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// WebhookDeliveryStatus represents the delivery state of one notification
// event to one subscriber endpoint.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryPending      WebhookDeliveryStatus = "PENDING"
	WebhookDeliveryRetrying     WebhookDeliveryStatus = "RETRYING"
	WebhookDeliveryAcknowledged WebhookDeliveryStatus = "ACKNOWLEDGED"
	WebhookDeliveryFailed       WebhookDeliveryStatus = "FAILED"
)

func (s WebhookDeliveryStatus) String() string { return string(s) }

func (s WebhookDeliveryStatus) IsValid() bool {
	switch s {
	case WebhookDeliveryPending, WebhookDeliveryRetrying, WebhookDeliveryAcknowledged, WebhookDeliveryFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further attempt may occur.
func (s WebhookDeliveryStatus) IsTerminal() bool {
	return s == WebhookDeliveryAcknowledged || s == WebhookDeliveryFailed
}

// WebhookEventType identifies a notification lifecycle event forwarded to
// subscriber endpoints.
type WebhookEventType string

const (
	EventDelivered      WebhookEventType = "delivered"
	EventFailed         WebhookEventType = "failed"
	EventCancelled      WebhookEventType = "cancelled"
	EventRetryScheduled WebhookEventType = "retry_scheduled"
	EventRetryAttempted WebhookEventType = "retry_attempted"
)

func (e WebhookEventType) String() string { return string(e) }

func (e WebhookEventType) IsValid() bool {
	switch e {
	case EventDelivered, EventFailed, EventCancelled, EventRetryScheduled, EventRetryAttempted:
		return true
	}
	return false
}

// Webhook is a subscriber-registered endpoint notified of notification events.
type Webhook struct {
	ID          string
	ServiceID   string
	URL         string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (w *Webhook) Validate() error {
	if w.ServiceID == "" {
		return fmt.Errorf("%w: service id is required", ErrValidation)
	}
	trimmed := strings.TrimSpace(w.URL)
	if trimmed == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("%w: url must be a valid http(s) endpoint", ErrValidation)
	}
	return nil
}

// WebhookDelivery tracks delivery of one notification event to one webhook,
// including its independent retry state.
type WebhookDelivery struct {
	ID                 string
	WebhookID          string
	NotificationID     string
	EventType          WebhookEventType
	Status             WebhookDeliveryStatus
	AttemptCount       int
	ImmediateAttempts  int
	LastAttemptAt      *time.Time
	NextRetryAt        *time.Time
	AcknowledgedAt     *time.Time
	ResponseStatusCode *int
	ResponseBody       *string
	ErrorMessage       string
	TaskID             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
