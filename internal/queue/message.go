package queue

import (
	"fmt"
	"strings"

	"github.com/selimunal/notification-relay/internal/domain"
)

// TaskMessage is the broker envelope shared by all work queues. Which fields
// are required depends on the task.
type TaskMessage struct {
	Task           string                  `json:"task"`
	NotificationID string                  `json:"notificationId"`
	WebhookID      string                  `json:"webhookId,omitempty"`
	EventType      domain.WebhookEventType `json:"eventType,omitempty"`
	Reason         string                  `json:"reason,omitempty"`
	Priority       domain.Priority         `json:"priority"`
}

func (m TaskMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}

	switch m.Task {
	case TaskSendNotification:
		return nil
	case TaskMarkFailed:
		if strings.TrimSpace(m.Reason) == "" {
			return fmt.Errorf("reason is required for %s", TaskMarkFailed)
		}
		return nil
	case TaskSendWebhook:
		if strings.TrimSpace(m.WebhookID) == "" {
			return fmt.Errorf("webhookId is required for %s", TaskSendWebhook)
		}
		if !m.EventType.IsValid() {
			return fmt.Errorf("invalid eventType %q", m.EventType)
		}
		return nil
	default:
		return fmt.Errorf("unknown task %q", m.Task)
	}
}
