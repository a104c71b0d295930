package queue

import (
	"context"

	"github.com/selimunal/notification-relay/internal/domain"
)

// Work queues. Each has a dead-letter companion behind the relay.dlx
// exchange for messages rejected as unprocessable.
const (
	QueueDispatch = "notify.dispatch"
	QueueTerminal = "notify.terminal"
	QueueWebhook  = "webhook.deliver"
)

// Task names carried in the message envelope.
const (
	TaskSendNotification = "send_notification"
	TaskMarkFailed       = "mark_notification_failed"
	TaskSendWebhook      = "send_webhook"
)

// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
const queueMaxPriority int32 = 4

var workQueues = []string{QueueDispatch, QueueTerminal, QueueWebhook}

// Publisher publishes task messages to a work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg TaskMessage) error
	Close() error
}

// MessageHandler handles a consumed task message.
type MessageHandler func(ctx context.Context, msg TaskMessage) error

// Consumer consumes task messages from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name, e.g. dlq.notify.dispatch.
func DLQName(queue string) string {
	return "dlq." + queue
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityInstant:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
