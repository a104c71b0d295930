package provider

import (
	"context"
)

// Message carries the delivery-relevant fields of a notification to a
// provider adapter.
type Message struct {
	NotificationID string
	Recipient      string
	Content        string
	Subject        string
	Metadata       map[string]string
}

// SendResult stores provider call metadata for audit and persistence.
// MessageIDs holds the provider-assigned identifiers used to correlate
// later inbound callbacks, keyed by the provider's own id name.
type SendResult struct {
	Success     bool
	MessageIDs  map[string]string
	RawResponse string
}

// Provider is the outbound delivery port. An adapter that accepts a message
// for later delivery instead of delivering inline reports DeliversAsync true,
// and the dispatcher waits for the provider callback before settling.
type Provider interface {
	Name() string
	DeliversAsync() bool
	SendSMS(ctx context.Context, msg Message) (*SendResult, error)
	SendEmail(ctx context.Context, msg Message) (*SendResult, error)
	SendWhatsApp(ctx context.Context, msg Message) (*SendResult, error)
}
