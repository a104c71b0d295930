package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSending   Status = "SENDING"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusSeen      Status = "SEEN"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSending, StatusDelivered, StatusFailed, StatusSeen, StatusCancelled:
		return true
	}
	return false
}

// IsAbsorbing reports whether the status admits no further transition at all.
func (s Status) IsAbsorbing() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition encodes the notification state machine:
// PENDING -> QUEUED -> SENDING -> {DELIVERED, FAILED, SEEN}. SENDING may fall
// back to QUEUED when a transient provider failure schedules a retry. Any
// non-absorbing state may move to CANCELLED. SEEN upgrades only from
// non-delivered states.
func CanTransition(from, to Status) bool {
	if from == to || from.IsAbsorbing() {
		return false
	}
	if to == StatusCancelled {
		return true
	}

	switch from {
	case StatusPending:
		return to == StatusQueued || to == StatusSending
	case StatusQueued, StatusSending:
		return to == StatusQueued || to == StatusSending ||
			to == StatusDelivered || to == StatusFailed || to == StatusSeen
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelWhatsApp:
		return true
	}
	return false
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityLow     Priority = "LOW"
	PriorityNormal  Priority = "NORMAL"
	PriorityHigh    Priority = "HIGH"
	PriorityInstant Priority = "INSTANT"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityInstant:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// MaxRetries is the dispatch retry budget per notification.
const MaxRetries = 3

// Content limits per channel (in characters).
const (
	MaxSMSContent      = 1600
	MaxWhatsAppContent = 4096
	MaxEmailContent    = 100000
)

// Notification is the core domain entity representing a message to be delivered.
type Notification struct {
	ID           string
	ServiceID    string
	Channel      Channel
	Priority     Priority
	Status       Status
	Recipient    string
	Content      string
	Subject      string
	ProviderID   string
	ExternalIDs  map[string]string
	Fingerprint  string
	RetryCount   int
	NextRetryAt  *time.Time
	TaskID       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ScheduledAt  *time.Time
	SentAt       *time.Time
	DeliveredAt  *time.Time
	FailedAt     *time.Time
}

func (n *Notification) Validate() error {
	if n.ServiceID == "" {
		return fmt.Errorf("%w: service id is required", ErrValidation)
	}
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if n.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if !n.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, n.Channel)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if n.Channel == ChannelEmail && strings.TrimSpace(n.Subject) == "" {
		return fmt.Errorf("%w: subject is required for email", ErrValidation)
	}

	contentLen := len([]rune(n.Content))
	switch n.Channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return fmt.Errorf("%w: SMS content exceeds %d characters (got %d)", ErrValidation, MaxSMSContent, contentLen)
		}
	case ChannelWhatsApp:
		if contentLen > MaxWhatsAppContent {
			return fmt.Errorf("%w: whatsapp content exceeds %d characters (got %d)", ErrValidation, MaxWhatsAppContent, contentLen)
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return fmt.Errorf("%w: email content exceeds %d characters (got %d)", ErrValidation, MaxEmailContent, contentLen)
		}
	}

	return nil
}
