package repository

import (
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID           string            `gorm:"type:uuid;primaryKey"`
	ServiceID    string            `gorm:"type:uuid;not null"`
	Channel      domain.Channel    `gorm:"type:varchar(10);not null"`
	Priority     domain.Priority   `gorm:"type:varchar(10);not null"`
	Status       domain.Status     `gorm:"type:varchar(20);not null"`
	Recipient    string            `gorm:"type:varchar(255);not null"`
	Content      string            `gorm:"type:text;not null"`
	Subject      *string           `gorm:"type:varchar(998)"`
	ProviderID   *string           `gorm:"type:uuid"`
	ExternalIDs  map[string]string `gorm:"type:jsonb;serializer:json"`
	Fingerprint  string            `gorm:"type:char(64);not null"`
	RetryCount   int               `gorm:"not null;default:0"`
	NextRetryAt  *time.Time
	TaskID       *string           `gorm:"type:varchar(255)"`
	ErrorMessage *string           `gorm:"type:text"`
	Metadata     map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ScheduledAt  *time.Time `gorm:"type:timestamptz"`
	SentAt       *time.Time
	DeliveredAt  *time.Time
	FailedAt     *time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	NotificationID string        `gorm:"type:uuid;not null"`
	AttemptNumber  int           `gorm:"not null"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	ProviderName   *string       `gorm:"type:varchar(100)"`
	RawResponse    *string       `gorm:"type:text"`
	Error          *string       `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// WebhookModel is the persistence model for webhooks.
type WebhookModel struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	ServiceID   string  `gorm:"type:uuid;not null"`
	URL         string  `gorm:"type:varchar(500);not null"`
	Description *string `gorm:"type:text"`
	IsActive    bool    `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (WebhookModel) TableName() string {
	return "webhooks"
}

// WebhookDeliveryModel is the persistence model for webhook_deliveries.
type WebhookDeliveryModel struct {
	ID                 string                       `gorm:"type:uuid;primaryKey"`
	WebhookID          string                       `gorm:"type:uuid;not null;index:idx_webhook_deliveries_pair,unique,composite:pair"`
	NotificationID     string                       `gorm:"type:uuid;not null;index:idx_webhook_deliveries_pair,unique,composite:pair"`
	EventType          domain.WebhookEventType      `gorm:"type:varchar(30);not null"`
	Status             domain.WebhookDeliveryStatus `gorm:"type:varchar(20);not null"`
	AttemptCount       int                          `gorm:"not null;default:0"`
	ImmediateAttempts  int                          `gorm:"not null;default:0"`
	LastAttemptAt      *time.Time
	NextRetryAt        *time.Time
	AcknowledgedAt     *time.Time
	ResponseStatusCode *int    `gorm:"type:int"`
	ResponseBody       *string `gorm:"type:text"`
	ErrorMessage       *string `gorm:"type:text"`
	TaskID             *string `gorm:"type:varchar(255)"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (WebhookDeliveryModel) TableName() string {
	return "webhook_deliveries"
}

// ProviderModel is the persistence model for providers.
type ProviderModel struct {
	ID            string              `gorm:"type:uuid;primaryKey"`
	Name          string              `gorm:"type:varchar(100);not null;uniqueIndex"`
	Kind          domain.ProviderKind `gorm:"type:varchar(20);not null"`
	Channels      []domain.Channel    `gorm:"type:jsonb;serializer:json"`
	Priority      int                 `gorm:"not null;default:100"`
	IsActive      bool                `gorm:"not null;default:true"`
	DeliversAsync bool                `gorm:"not null;default:false"`
	Config        map[string]string   `gorm:"type:jsonb;serializer:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProviderModel) TableName() string {
	return "providers"
}

// ServiceUserModel is the persistence model for service_users.
type ServiceUserModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (ServiceUserModel) TableName() string {
	return "service_users"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		ServiceID:    n.ServiceID,
		Channel:      n.Channel,
		Priority:     n.Priority,
		Status:       n.Status,
		Recipient:    n.Recipient,
		Content:      n.Content,
		Subject:      optionalString(n.Subject),
		ProviderID:   optionalString(n.ProviderID),
		ExternalIDs:  n.ExternalIDs,
		Fingerprint:  n.Fingerprint,
		RetryCount:   n.RetryCount,
		NextRetryAt:  n.NextRetryAt,
		TaskID:       optionalString(n.TaskID),
		ErrorMessage: optionalString(n.ErrorMessage),
		Metadata:     n.Metadata,
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
		ScheduledAt:  n.ScheduledAt,
		SentAt:       n.SentAt,
		DeliveredAt:  n.DeliveredAt,
		FailedAt:     n.FailedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		ServiceID:    m.ServiceID,
		Channel:      m.Channel,
		Priority:     m.Priority,
		Status:       m.Status,
		Recipient:    m.Recipient,
		Content:      m.Content,
		Subject:      stringValue(m.Subject),
		ProviderID:   stringValue(m.ProviderID),
		ExternalIDs:  m.ExternalIDs,
		Fingerprint:  m.Fingerprint,
		RetryCount:   m.RetryCount,
		NextRetryAt:  m.NextRetryAt,
		TaskID:       stringValue(m.TaskID),
		ErrorMessage: stringValue(m.ErrorMessage),
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		ScheduledAt:  m.ScheduledAt,
		SentAt:       m.SentAt,
		DeliveredAt:  m.DeliveredAt,
		FailedAt:     m.FailedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Status:         a.Status,
		ProviderName:   optionalString(a.ProviderName),
		RawResponse:    a.RawResponse,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Status:         m.Status,
		ProviderName:   stringValue(m.ProviderName),
		RawResponse:    m.RawResponse,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}

func webhookModelFromDomain(w *domain.Webhook) *WebhookModel {
	if w == nil {
		return nil
	}

	return &WebhookModel{
		ID:          w.ID,
		ServiceID:   w.ServiceID,
		URL:         w.URL,
		Description: optionalString(w.Description),
		IsActive:    w.IsActive,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

func webhookModelToDomain(m *WebhookModel) *domain.Webhook {
	if m == nil {
		return nil
	}

	return &domain.Webhook{
		ID:          m.ID,
		ServiceID:   m.ServiceID,
		URL:         m.URL,
		Description: stringValue(m.Description),
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func deliveryModelFromDomain(d *domain.WebhookDelivery) *WebhookDeliveryModel {
	if d == nil {
		return nil
	}

	return &WebhookDeliveryModel{
		ID:                 d.ID,
		WebhookID:          d.WebhookID,
		NotificationID:     d.NotificationID,
		EventType:          d.EventType,
		Status:             d.Status,
		AttemptCount:       d.AttemptCount,
		ImmediateAttempts:  d.ImmediateAttempts,
		LastAttemptAt:      d.LastAttemptAt,
		NextRetryAt:        d.NextRetryAt,
		AcknowledgedAt:     d.AcknowledgedAt,
		ResponseStatusCode: d.ResponseStatusCode,
		ResponseBody:       d.ResponseBody,
		ErrorMessage:       optionalString(d.ErrorMessage),
		TaskID:             optionalString(d.TaskID),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *WebhookDeliveryModel) *domain.WebhookDelivery {
	if m == nil {
		return nil
	}

	return &domain.WebhookDelivery{
		ID:                 m.ID,
		WebhookID:          m.WebhookID,
		NotificationID:     m.NotificationID,
		EventType:          m.EventType,
		Status:             m.Status,
		AttemptCount:       m.AttemptCount,
		ImmediateAttempts:  m.ImmediateAttempts,
		LastAttemptAt:      m.LastAttemptAt,
		NextRetryAt:        m.NextRetryAt,
		AcknowledgedAt:     m.AcknowledgedAt,
		ResponseStatusCode: m.ResponseStatusCode,
		ResponseBody:       m.ResponseBody,
		ErrorMessage:       stringValue(m.ErrorMessage),
		TaskID:             stringValue(m.TaskID),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func providerModelToDomain(m *ProviderModel) *domain.Provider {
	if m == nil {
		return nil
	}

	return &domain.Provider{
		ID:            m.ID,
		Name:          m.Name,
		Kind:          m.Kind,
		Channels:      m.Channels,
		Priority:      m.Priority,
		IsActive:      m.IsActive,
		DeliversAsync: m.DeliversAsync,
		Config:        m.Config,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func serviceUserModelToDomain(m *ServiceUserModel) *domain.ServiceUser {
	if m == nil {
		return nil
	}

	return &domain.ServiceUser{
		ID:        m.ID,
		Name:      m.Name,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
