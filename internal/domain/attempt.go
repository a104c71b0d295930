package domain

import "time"

// DeliveryAttempt records a single dispatcher execution for a notification.
// Rows are append-only and never mutated after insert.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Status         Status
	ProviderName   string
	RawResponse    *string
	Error          *string
	CreatedAt      time.Time
}
