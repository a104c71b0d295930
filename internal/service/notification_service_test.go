package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/provider"
	"github.com/selimunal/notification-relay/internal/queue"
)

func passthroughSelector() *fakeSelector {
	return &fakeSelector{
		selectFn: func(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error) {
			return &fakeProvider{name: "gateway"}, &domain.Provider{ID: "p-1", Name: "gateway"}, nil
		},
	}
}

func newTestNotificationService(
	t *testing.T,
	notifications *fakeNotificationRepo,
	deliveries *fakeDeliveryRepo,
	publisher *fakePublisher,
	guard *fakeGuard,
	selector *fakeSelector,
) *NotificationService {
	t.Helper()

	if deliveries == nil {
		deliveries = &fakeDeliveryRepo{}
	}
	if publisher == nil {
		publisher = &fakePublisher{}
	}
	if selector == nil {
		selector = passthroughSelector()
	}

	webhooks := &fakeWebhookRepo{
		listActiveServiceFn: func(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
			return []domain.Webhook{{ID: "w-1", ServiceID: serviceID, URL: "https://example.com/hook", IsActive: true}}, nil
		},
	}
	fanout := NewEventFanout(webhooks, deliveries, publisher, nil)

	var g *fakeGuard
	if guard != nil {
		g = guard
	} else {
		g = &fakeGuard{}
	}

	svc, err := NewNotificationService(
		notifications,
		&fakeAttemptRepo{},
		deliveries,
		&fakeServiceUserRepo{},
		publisher,
		selector,
		g,
		fanout,
		30*time.Minute,
		nil,
	)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}
	return svc
}

func validCreateParams() CreateParams {
	return CreateParams{
		ServiceID: "svc-1",
		Channel:   domain.ChannelSMS,
		Priority:  domain.PriorityNormal,
		Recipient: "+905551112233",
		Content:   "hello",
	}
}

func TestNotificationServiceCreateEnqueues(t *testing.T) {
	t.Parallel()

	var created *domain.Notification
	var appliedFrom, appliedTo domain.Status
	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			created = n
			return nil
		},
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			appliedFrom, appliedTo = from, to
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, nil, publisher, nil, nil)

	notification, err := svc.Create(context.Background(), validCreateParams())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if created == nil {
		t.Fatal("notification was not persisted")
	}
	if created.Fingerprint == "" {
		t.Fatal("fingerprint should be computed before persist")
	}
	if notification.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want QUEUED", notification.Status)
	}
	if appliedFrom != domain.StatusPending || appliedTo != domain.StatusQueued {
		t.Fatalf("transition = %s->%s, want PENDING->QUEUED", appliedFrom, appliedTo)
	}

	msgs := publisher.messages()
	if len(msgs) != 1 || msgs[0].Queue != queue.QueueDispatch {
		t.Fatalf("published = %+v, want one dispatch task", msgs)
	}
	if msgs[0].Msg.Task != queue.TaskSendNotification {
		t.Fatalf("task = %q, want %q", msgs[0].Msg.Task, queue.TaskSendNotification)
	}
}

func TestNotificationServiceCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		findDuplicateFn: func(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error) {
			return &domain.Notification{ID: "n-existing"}, nil
		},
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("duplicate must not be persisted")
			return nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, nil, publisher, nil, nil)

	_, err := svc.Create(context.Background(), validCreateParams())
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("Create() error = %v, want %v", err, domain.ErrDuplicate)
	}
	if len(publisher.messages()) != 0 {
		t.Fatal("duplicate must not be enqueued")
	}
}

func TestNotificationServiceCreateScheduledStaysPending(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			t.Fatal("scheduled notification must stay PENDING")
			return false, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, nil, publisher, nil, nil)

	params := validCreateParams()
	scheduledAt := time.Now().Add(2 * time.Hour)
	params.ScheduledAt = &scheduledAt

	notification, err := svc.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if notification.Status != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", notification.Status)
	}
	if len(publisher.messages()) != 0 {
		t.Fatal("scheduled notification must not be enqueued immediately")
	}
}

func TestNotificationServiceCreateWithdrawsRacingTwin(t *testing.T) {
	t.Parallel()

	var deleted []string
	var createdID string
	lookups := 0
	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			createdID = n.ID
			return nil
		},
		findDuplicateFn: func(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error) {
			// The pre-check sees nothing; an identical create lands in
			// between, so the post-insert check finds an older sibling.
			lookups++
			if lookups == 1 {
				return nil, domain.ErrNotFound
			}
			return &domain.Notification{ID: "n-winner", Status: domain.StatusQueued}, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = append(deleted, id)
			return nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, nil, publisher, nil, nil)

	_, err := svc.Create(context.Background(), validCreateParams())
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("Create() error = %v, want %v", err, domain.ErrDuplicate)
	}
	if len(deleted) != 1 || deleted[0] != createdID {
		t.Fatalf("withdrawn rows = %v, want the losing insert %s", deleted, createdID)
	}
	if len(publisher.messages()) != 0 {
		t.Fatal("losing insert must not be dispatched")
	}
}

func TestNotificationServiceCreateUnknownProvider(t *testing.T) {
	t.Parallel()

	selector := &fakeSelector{
		selectFn: func(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error) {
			return nil, nil, domain.ErrProviderNotFound
		},
	}
	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("must not persist with unknown provider")
			return nil
		},
	}
	svc := newTestNotificationService(t, notifications, nil, nil, nil, selector)

	params := validCreateParams()
	params.ProviderID = "p-missing"
	_, err := svc.Create(context.Background(), params)
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("Create() error = %v, want %v", err, domain.ErrProviderNotFound)
	}
}

func TestNotificationServiceCreateRejectsDeactivatedService(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		createFn: func(ctx context.Context, n *domain.Notification) error {
			t.Fatal("must not persist for a deactivated service")
			return nil
		},
	}
	serviceUsers := &fakeServiceUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.ServiceUser, error) {
			if id == "svc-gone" {
				return nil, domain.ErrNotFound
			}
			return &domain.ServiceUser{ID: id, Name: "acme", IsActive: false}, nil
		},
	}
	svc, err := NewNotificationService(
		notifications,
		&fakeAttemptRepo{},
		&fakeDeliveryRepo{},
		serviceUsers,
		&fakePublisher{},
		passthroughSelector(),
		&fakeGuard{},
		nil,
		30*time.Minute,
		nil,
	)
	if err != nil {
		t.Fatalf("NewNotificationService() error = %v", err)
	}

	if _, err := svc.Create(context.Background(), validCreateParams()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create() error = %v, want %v", err, domain.ErrValidation)
	}

	params := validCreateParams()
	params.ServiceID = "svc-gone"
	if _, err := svc.Create(context.Background(), params); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Create() unknown service error = %v, want %v", err, domain.ErrValidation)
	}
}

func TestNotificationServiceCancel(t *testing.T) {
	t.Parallel()

	var cancelled bool
	var failedReason string
	notifications := &fakeNotificationRepo{
		getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
			n := sendingNotification()
			n.Status = domain.StatusQueued
			return n, nil
		},
		markCancelledFn: func(ctx context.Context, id string) error {
			cancelled = true
			return nil
		},
	}
	deliveries := &fakeDeliveryRepo{
		failNonTerminalFn: func(ctx context.Context, notificationID, reason string) (int64, error) {
			failedReason = reason
			return 2, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, deliveries, publisher, nil, nil)

	notification, err := svc.Cancel(context.Background(), "n-1")
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if !cancelled {
		t.Fatal("MarkCancelled was not called")
	}
	if notification.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", notification.Status)
	}
	if failedReason != "notification cancelled" {
		t.Fatalf("delivery failure reason = %q", failedReason)
	}

	var sawCancelledFanout bool
	for _, m := range publisher.messages() {
		if m.Queue == queue.QueueWebhook && m.Msg.EventType == domain.EventCancelled {
			sawCancelledFanout = true
		}
	}
	if !sawCancelledFanout {
		t.Fatal("expected cancelled-event fanout")
	}
}

func TestNotificationServiceCancelSettled(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.Status{domain.StatusDelivered, domain.StatusCancelled} {
		status := status
		t.Run(status.String(), func(t *testing.T) {
			t.Parallel()

			notifications := &fakeNotificationRepo{
				getByIDFn: func(ctx context.Context, id string) (*domain.Notification, error) {
					n := sendingNotification()
					n.Status = status
					return n, nil
				},
				markCancelledFn: func(ctx context.Context, id string) error {
					t.Fatal("MarkCancelled must not be called")
					return nil
				},
			}
			svc := newTestNotificationService(t, notifications, nil, nil, nil, nil)

			_, err := svc.Cancel(context.Background(), "n-1")
			if !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("Cancel() error = %v, want %v", err, domain.ErrConflict)
			}
		})
	}
}

func TestHandleProviderEventDelivered(t *testing.T) {
	t.Parallel()

	var appliedTo domain.Status
	notifications := &fakeNotificationRepo{
		findByExternalIDFn: func(ctx context.Context, key, value string) (*domain.Notification, error) {
			n := sendingNotification()
			n.Status = domain.StatusSending
			n.ExternalIDs = map[string]string{key: value}
			return n, nil
		},
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			appliedTo = to
			return true, nil
		},
	}
	publisher := &fakePublisher{}
	svc := newTestNotificationService(t, notifications, nil, publisher, nil, nil)

	err := svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Source:     "gateway",
		ExternalID: "ext-1",
		Event:      "delivered",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}

	if appliedTo != domain.StatusDelivered {
		t.Fatalf("applied status = %s, want DELIVERED", appliedTo)
	}

	var sawFanout bool
	for _, m := range publisher.messages() {
		if m.Queue == queue.QueueWebhook && m.Msg.EventType == domain.EventDelivered {
			sawFanout = true
		}
	}
	if !sawFanout {
		t.Fatal("expected delivered-event fanout")
	}
}

func TestHandleProviderEventDuplicateSuppressed(t *testing.T) {
	t.Parallel()

	guard := &fakeGuard{
		checkFn: func(ctx context.Context, key string) (bool, error) {
			return false, nil
		},
	}
	notifications := &fakeNotificationRepo{
		findByExternalIDFn: func(ctx context.Context, key, value string) (*domain.Notification, error) {
			t.Fatal("duplicate callback must not be processed")
			return nil, nil
		},
	}
	svc := newTestNotificationService(t, notifications, nil, nil, guard, nil)

	err := svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Source:     "gateway",
		ExternalID: "ext-1",
		Event:      "delivered",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}
}

func TestHandleProviderEventIgnoresForbiddenTransition(t *testing.T) {
	t.Parallel()

	notifications := &fakeNotificationRepo{
		findByExternalIDFn: func(ctx context.Context, key, value string) (*domain.Notification, error) {
			n := sendingNotification()
			n.Status = domain.StatusCancelled
			return n, nil
		},
		applyStatusFn: func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
			t.Fatal("no status write for a settled notification")
			return false, nil
		},
	}
	svc := newTestNotificationService(t, notifications, nil, nil, nil, nil)

	err := svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Source:     "gateway",
		ExternalID: "ext-1",
		Event:      "delivered",
		OccurredAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("HandleProviderEvent() error = %v", err)
	}
}

func TestHandleProviderEventUnknownEvent(t *testing.T) {
	t.Parallel()

	svc := newTestNotificationService(t, &fakeNotificationRepo{}, nil, nil, nil, nil)

	err := svc.HandleProviderEvent(context.Background(), ProviderEvent{
		Source:     "gateway",
		ExternalID: "ext-1",
		Event:      "teleported",
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("HandleProviderEvent() error = %v, want %v", err, domain.ErrValidation)
	}
}

func TestMapProviderEvent(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		event string
		want  domain.Status
	}{
		{event: "queued", want: domain.StatusQueued},
		{event: "sent", want: domain.StatusSending},
		{event: "delivered", want: domain.StatusDelivered},
		{event: "bounced", want: domain.StatusFailed},
		{event: "failed", want: domain.StatusFailed},
		{event: "opened", want: domain.StatusSeen},
		{event: "clicked", want: domain.StatusSeen},
		{event: "Seen", want: domain.StatusSeen},
	}

	for _, tc := range testCases {
		got, err := mapProviderEvent(tc.event)
		if err != nil {
			t.Errorf("mapProviderEvent(%q) error = %v", tc.event, err)
			continue
		}
		if got != tc.want {
			t.Errorf("mapProviderEvent(%q) = %s, want %s", tc.event, got, tc.want)
		}
	}
}
