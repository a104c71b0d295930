package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/provider"
	"github.com/selimunal/notification-relay/internal/queue"
)

func sendingNotification() *domain.Notification {
	return &domain.Notification{
		ID:        "n-1",
		ServiceID: "svc-1",
		Channel:   domain.ChannelSMS,
		Priority:  domain.PriorityNormal,
		Status:    domain.StatusSending,
		Recipient: "+905551112233",
		Content:   "hello",
		CreatedAt: time.Unix(1_700_000_000, 0),
	}
}

type dispatcherDeps struct {
	notifications *fakeNotificationRepo
	attempts      *fakeAttemptRepo
	publisher     *fakePublisher
	webhooks      *fakeWebhookRepo
	provider      *fakeProvider
}

func newTestDispatcher(t *testing.T, deps *dispatcherDeps) *Dispatcher {
	t.Helper()

	if deps.attempts == nil {
		deps.attempts = &fakeAttemptRepo{}
	}
	if deps.publisher == nil {
		deps.publisher = &fakePublisher{}
	}
	if deps.webhooks == nil {
		deps.webhooks = &fakeWebhookRepo{
			listActiveServiceFn: func(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
				return []domain.Webhook{{ID: "w-1", ServiceID: serviceID, URL: "https://example.com/hook", IsActive: true}}, nil
			},
		}
	}

	selector := &fakeSelector{
		selectFn: func(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error) {
			return deps.provider, &domain.Provider{ID: "p-1", Name: deps.provider.name}, nil
		},
	}

	fanout := NewEventFanout(deps.webhooks, &fakeDeliveryRepo{}, deps.publisher, nil)

	dispatcher, err := NewDispatcher(
		deps.notifications,
		deps.attempts,
		&fakeConsumer{},
		deps.publisher,
		selector,
		&fakeLimiter{},
		fanout,
		1,
		nil,
	)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return dispatcher
}

func TestDispatcherSyncSuccess(t *testing.T) {
	t.Parallel()

	var appliedFrom, appliedTo domain.Status
	var storedIDs map[string]string

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return sendingNotification(), nil
		},
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			appliedFrom, appliedTo = from, to
			return true, nil
		},
		setExternalIDsFn: func(ctx context.Context, id string, externalIDs map[string]string) error {
			storedIDs = externalIDs
			return nil
		},
	}
	prov := &fakeProvider{
		name: "gateway",
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{
				Success:     true,
				MessageIDs:  map[string]string{"gateway": "ext-1"},
				RawResponse: `{"ok":true}`,
			}, nil
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if appliedFrom != domain.StatusSending || appliedTo != domain.StatusDelivered {
		t.Fatalf("transition = %s->%s, want SENDING->DELIVERED", appliedFrom, appliedTo)
	}
	if storedIDs["gateway"] != "ext-1" {
		t.Fatalf("external ids = %v, want gateway:ext-1", storedIDs)
	}

	attempts := deps.attempts.recorded()
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(attempts))
	}
	if attempts[0].AttemptNumber != 1 || attempts[0].Status != domain.StatusDelivered {
		t.Fatalf("attempt = %+v, want number 1 status DELIVERED", attempts[0])
	}

	var webhookTasks int
	for _, m := range deps.publisher.messages() {
		if m.Queue == queue.QueueWebhook && m.Msg.EventType == domain.EventDelivered {
			webhookTasks++
		}
	}
	if webhookTasks != 1 {
		t.Fatalf("delivered webhook tasks = %d, want 1", webhookTasks)
	}
}

func TestDispatcherAsyncProviderDefersSettlement(t *testing.T) {
	t.Parallel()

	var appliedTo domain.Status
	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return sendingNotification(), nil
		},
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			appliedTo = to
			return true, nil
		},
	}
	prov := &fakeProvider{
		name:  "gateway",
		async: true,
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return &provider.SendResult{Success: true, MessageIDs: map[string]string{"gateway": "ext-9"}}, nil
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if appliedTo != domain.StatusQueued {
		t.Fatalf("status = %s, want QUEUED while awaiting provider callback", appliedTo)
	}
	for _, m := range deps.publisher.messages() {
		if m.Queue == queue.QueueWebhook {
			t.Fatalf("unexpected webhook fanout before provider callback: %+v", m)
		}
	}
}

func TestDispatcherTransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	var scheduledCount int
	var scheduledAt time.Time
	now := time.Unix(1_700_000_000, 0).UTC()

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return sendingNotification(), nil
		},
		scheduleRetryFn: func(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
			scheduledCount = retryCount
			scheduledAt = nextRetryAt
			return nil
		},
	}
	prov := &fakeProvider{
		name: "gateway",
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return nil, &provider.ProviderError{StatusCode: 503, Message: "upstream down", Transient: true}
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)
	dispatcher.now = func() time.Time { return now }

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if scheduledCount != 1 {
		t.Fatalf("retry count = %d, want 1", scheduledCount)
	}
	if want := now.Add(5 * time.Minute); !scheduledAt.Equal(want) {
		t.Fatalf("next retry at = %v, want %v", scheduledAt, want)
	}

	var sawRetryScheduled bool
	for _, m := range deps.publisher.messages() {
		if m.Queue == queue.QueueTerminal {
			t.Fatalf("unexpected terminal task for retryable failure: %+v", m)
		}
		if m.Queue == queue.QueueWebhook && m.Msg.EventType == domain.EventRetryScheduled {
			sawRetryScheduled = true
		}
	}
	if !sawRetryScheduled {
		t.Fatal("expected retry_scheduled fanout")
	}
}

func TestDispatcherExhaustedRetriesPublishesTerminal(t *testing.T) {
	t.Parallel()

	var exhaustedCount int
	var exhaustedReason string

	notification := sendingNotification()
	notification.RetryCount = 2

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return notification, nil
		},
		scheduleRetryFn: func(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
			t.Fatal("ScheduleRetry should not be called after exhaustion")
			return nil
		},
		markRetriesExhaustedFn: func(ctx context.Context, id string, retryCount int, errorMessage string) error {
			exhaustedCount = retryCount
			exhaustedReason = errorMessage
			return nil
		},
	}
	prov := &fakeProvider{
		name: "gateway",
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return nil, &provider.ProviderError{StatusCode: 500, Message: "still down", Transient: true}
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if exhaustedCount != domain.MaxRetries {
		t.Fatalf("exhausted retry count = %d, want %d", exhaustedCount, domain.MaxRetries)
	}
	if !strings.HasPrefix(exhaustedReason, "max retries exceeded:") {
		t.Fatalf("reason = %q, want max retries exceeded prefix", exhaustedReason)
	}

	var terminal *publishedMessage
	for _, m := range deps.publisher.messages() {
		if m.Queue == queue.QueueTerminal {
			m := m
			terminal = &m
		}
	}
	if terminal == nil {
		t.Fatal("expected terminal task")
	}
	if terminal.Msg.Task != queue.TaskMarkFailed {
		t.Fatalf("terminal task = %q, want %q", terminal.Msg.Task, queue.TaskMarkFailed)
	}
	if !strings.HasPrefix(terminal.Msg.Reason, "max retries exceeded:") {
		t.Fatalf("terminal reason = %q, want max retries exceeded prefix", terminal.Msg.Reason)
	}
}

func TestDispatcherPermanentFailureGoesTerminal(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return sendingNotification(), nil
		},
		scheduleRetryFn: func(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
			t.Fatal("ScheduleRetry should not be called for permanent errors")
			return nil
		},
	}
	prov := &fakeProvider{
		name: "gateway",
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return nil, &provider.ProviderError{StatusCode: 400, Message: "invalid recipient", Transient: false}
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	var sawTerminal bool
	for _, m := range deps.publisher.messages() {
		if m.Queue == queue.QueueTerminal {
			sawTerminal = true
			if strings.HasPrefix(m.Msg.Reason, "max retries exceeded:") {
				t.Fatalf("permanent failure reason should carry the cause directly, got %q", m.Msg.Reason)
			}
		}
	}
	if !sawTerminal {
		t.Fatal("expected terminal task for permanent failure")
	}
}

func TestDispatcherStalePickupIsNoOp(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		markSendingFn: func(ctx context.Context, id, taskID string) (*domain.Notification, error) {
			return nil, nil
		},
	}
	prov := &fakeProvider{
		name: "gateway",
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
			return nil, fmt.Errorf("should not be called")
		},
	}
	deps := &dispatcherDeps{notifications: notifications, provider: prov}
	dispatcher := newTestDispatcher(t, deps)

	err := dispatcher.processTask(context.Background(), queue.TaskMessage{
		Task:           queue.TaskSendNotification,
		NotificationID: "n-cancelled",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("processTask() error = %v", err)
	}

	if prov.sendCalls != 0 {
		t.Fatalf("provider send calls = %d, want 0", prov.sendCalls)
	}
	if len(deps.attempts.recorded()) != 0 {
		t.Fatal("no attempt should be recorded for a stale pickup")
	}
}

func TestRetryDelayLadder(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		retryNumber int
		want        time.Duration
	}{
		{retryNumber: 1, want: 5 * time.Minute},
		{retryNumber: 2, want: 15 * time.Minute},
		{retryNumber: 3, want: 30 * time.Minute},
		{retryNumber: 9, want: 30 * time.Minute},
		{retryNumber: 0, want: 5 * time.Minute},
	}

	for _, tc := range testCases {
		if got := retryDelay(tc.retryNumber); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.retryNumber, got, tc.want)
		}
	}
}
