package domain

import (
	"errors"
	"testing"
)

func TestWebhookValidate(t *testing.T) {
	t.Parallel()

	valid := Webhook{
		ServiceID: "svc-1",
		URL:       "https://example.com/hooks/notify",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	tests := []struct {
		name string
		hook Webhook
	}{
		{name: "missing service id", hook: Webhook{URL: "https://example.com"}},
		{name: "missing url", hook: Webhook{ServiceID: "svc-1"}},
		{name: "non http scheme", hook: Webhook{ServiceID: "svc-1", URL: "ftp://example.com"}},
		{name: "garbage url", hook: Webhook{ServiceID: "svc-1", URL: "not a url"}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.hook.Validate()
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestWebhookDeliveryStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if !WebhookDeliveryAcknowledged.IsTerminal() {
		t.Fatal("ACKNOWLEDGED should be terminal")
	}
	if !WebhookDeliveryFailed.IsTerminal() {
		t.Fatal("FAILED should be terminal")
	}
	if WebhookDeliveryPending.IsTerminal() {
		t.Fatal("PENDING should not be terminal")
	}
	if WebhookDeliveryRetrying.IsTerminal() {
		t.Fatal("RETRYING should not be terminal")
	}
}

func TestWebhookEventTypeIsValid(t *testing.T) {
	t.Parallel()

	for _, event := range []WebhookEventType{
		EventDelivered, EventFailed, EventCancelled, EventRetryScheduled, EventRetryAttempted,
	} {
		if !event.IsValid() {
			t.Fatalf("event %q should be valid", event)
		}
	}

	if WebhookEventType("opened").IsValid() {
		t.Fatal("unknown event should be invalid")
	}
}
