package service

import (
	"context"
	"sync"
	"time"

	"github.com/selimunal/notification-relay/internal/domain"
	"github.com/selimunal/notification-relay/internal/provider"
	"github.com/selimunal/notification-relay/internal/queue"
	"github.com/selimunal/notification-relay/internal/repository"
)

type fakeNotificationRepo struct {
	createFn               func(ctx context.Context, n *domain.Notification) error
	getByIDFn              func(ctx context.Context, id string) (*domain.Notification, error)
	listFn                 func(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error)
	findDuplicateFn        func(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error)
	findByExternalIDFn     func(ctx context.Context, key, value string) (*domain.Notification, error)
	markSendingFn          func(ctx context.Context, id, taskID string) (*domain.Notification, error)
	applyStatusFn          func(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error)
	scheduleRetryFn        func(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error
	markRetriesExhaustedFn func(ctx context.Context, id string, retryCount int, errorMessage string) error
	markFailedFn           func(ctx context.Context, id, errorMessage string) (bool, error)
	markCancelledFn        func(ctx context.Context, id string) error
	deleteFn               func(ctx context.Context, id string) error
	setExternalIDsFn       func(ctx context.Context, id string, externalIDs map[string]string) error
	getDueForRetryFn       func(ctx context.Context, limit int) ([]domain.Notification, error)
	getDueScheduledFn      func(ctx context.Context, limit int) ([]domain.Notification, error)
	clearRetrySlotFn       func(ctx context.Context, id string, retryAt time.Time) error
	releaseScheduledFn     func(ctx context.Context, id string, scheduledAt time.Time) error
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, n)
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	return f.listFn(ctx, params)
}

func (f *fakeNotificationRepo) FindDuplicate(ctx context.Context, fingerprint string, window time.Duration) (*domain.Notification, error) {
	if f.findDuplicateFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.findDuplicateFn(ctx, fingerprint, window)
}

func (f *fakeNotificationRepo) FindByExternalID(ctx context.Context, key, value string) (*domain.Notification, error) {
	return f.findByExternalIDFn(ctx, key, value)
}

func (f *fakeNotificationRepo) MarkSending(ctx context.Context, id, taskID string) (*domain.Notification, error) {
	return f.markSendingFn(ctx, id, taskID)
}

func (f *fakeNotificationRepo) ApplyStatus(ctx context.Context, id string, from, to domain.Status, errorMessage string) (bool, error) {
	if f.applyStatusFn == nil {
		return true, nil
	}
	return f.applyStatusFn(ctx, id, from, to, errorMessage)
}

func (f *fakeNotificationRepo) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, errorMessage string) error {
	return f.scheduleRetryFn(ctx, id, retryCount, nextRetryAt, errorMessage)
}

func (f *fakeNotificationRepo) MarkRetriesExhausted(ctx context.Context, id string, retryCount int, errorMessage string) error {
	if f.markRetriesExhaustedFn == nil {
		return nil
	}
	return f.markRetriesExhaustedFn(ctx, id, retryCount, errorMessage)
}

func (f *fakeNotificationRepo) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	return f.markFailedFn(ctx, id, errorMessage)
}

func (f *fakeNotificationRepo) MarkCancelled(ctx context.Context, id string) error {
	return f.markCancelledFn(ctx, id)
}

func (f *fakeNotificationRepo) SetExternalIDs(ctx context.Context, id string, externalIDs map[string]string) error {
	if f.setExternalIDsFn == nil {
		return nil
	}
	return f.setExternalIDsFn(ctx, id, externalIDs)
}

func (f *fakeNotificationRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Notification, error) {
	if f.getDueForRetryFn == nil {
		return nil, nil
	}
	return f.getDueForRetryFn(ctx, limit)
}

func (f *fakeNotificationRepo) GetDueScheduled(ctx context.Context, limit int) ([]domain.Notification, error) {
	if f.getDueScheduledFn == nil {
		return nil, nil
	}
	return f.getDueScheduledFn(ctx, limit)
}

func (f *fakeNotificationRepo) ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error {
	if f.clearRetrySlotFn == nil {
		return nil
	}
	return f.clearRetrySlotFn(ctx, id, retryAt)
}

func (f *fakeNotificationRepo) ReleaseScheduled(ctx context.Context, id string, scheduledAt time.Time) error {
	if f.releaseScheduledFn == nil {
		return nil
	}
	return f.releaseScheduledFn(ctx, id, scheduledAt)
}

func (f *fakeNotificationRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, id)
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
	countFn  func(ctx context.Context, notificationID string) (int64, error)
}

func (f *fakeAttemptRepo) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByNotificationID(_ context.Context, notificationID string) ([]domain.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DeliveryAttempt
	for _, a := range f.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) CountByNotificationID(ctx context.Context, notificationID string) (int64, error) {
	if f.countFn != nil {
		return f.countFn(ctx, notificationID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, a := range f.attempts {
		if a.NotificationID == notificationID {
			count++
		}
	}
	return count, nil
}

func (f *fakeAttemptRepo) recorded() []domain.DeliveryAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.DeliveryAttempt, len(f.attempts))
	copy(out, f.attempts)
	return out
}

type fakeWebhookRepo struct {
	createFn            func(ctx context.Context, w *domain.Webhook) error
	getByIDFn           func(ctx context.Context, id string) (*domain.Webhook, error)
	listByServiceFn     func(ctx context.Context, serviceID string) ([]domain.Webhook, error)
	listActiveServiceFn func(ctx context.Context, serviceID string) ([]domain.Webhook, error)
	updateFn            func(ctx context.Context, w *domain.Webhook) error
	deleteFn            func(ctx context.Context, id string) error
}

func (f *fakeWebhookRepo) Create(ctx context.Context, w *domain.Webhook) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, w)
}

func (f *fakeWebhookRepo) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeWebhookRepo) ListByService(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
	return f.listByServiceFn(ctx, serviceID)
}

func (f *fakeWebhookRepo) ListActiveByService(ctx context.Context, serviceID string) ([]domain.Webhook, error) {
	if f.listActiveServiceFn == nil {
		return nil, nil
	}
	return f.listActiveServiceFn(ctx, serviceID)
}

func (f *fakeWebhookRepo) Update(ctx context.Context, w *domain.Webhook) error {
	return f.updateFn(ctx, w)
}

func (f *fakeWebhookRepo) Delete(ctx context.Context, id string) error {
	return f.deleteFn(ctx, id)
}

type fakeServiceUserRepo struct {
	getByIDFn func(ctx context.Context, id string) (*domain.ServiceUser, error)
}

func (f *fakeServiceUserRepo) GetByID(ctx context.Context, id string) (*domain.ServiceUser, error) {
	if f.getByIDFn == nil {
		return &domain.ServiceUser{ID: id, Name: "acme", IsActive: true}, nil
	}
	return f.getByIDFn(ctx, id)
}

type fakeDeliveryRepo struct {
	getOrCreateFn        func(ctx context.Context, webhookID, notificationID string, eventType domain.WebhookEventType) (*domain.WebhookDelivery, error)
	getByIDFn            func(ctx context.Context, id string) (*domain.WebhookDelivery, error)
	listByNotificationFn func(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error)
	recordAttemptFn      func(ctx context.Context, d *domain.WebhookDelivery) error
	markFailedFn         func(ctx context.Context, id, reason string) error
	clearRetrySlotFn     func(ctx context.Context, id string, retryAt time.Time) error
	getDueRetriesFn      func(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error)
	failNonTerminalFn    func(ctx context.Context, notificationID, reason string) (int64, error)
}

func (f *fakeDeliveryRepo) GetOrCreate(ctx context.Context, webhookID, notificationID string, eventType domain.WebhookEventType) (*domain.WebhookDelivery, error) {
	if f.getOrCreateFn == nil {
		return &domain.WebhookDelivery{
			ID:             "d-" + webhookID,
			WebhookID:      webhookID,
			NotificationID: notificationID,
			EventType:      eventType,
			Status:         domain.WebhookDeliveryPending,
		}, nil
	}
	return f.getOrCreateFn(ctx, webhookID, notificationID, eventType)
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.WebhookDelivery, error) {
	return f.getByIDFn(ctx, id)
}

func (f *fakeDeliveryRepo) ListByNotification(ctx context.Context, notificationID string) ([]domain.WebhookDelivery, error) {
	return f.listByNotificationFn(ctx, notificationID)
}

func (f *fakeDeliveryRepo) RecordAttempt(ctx context.Context, d *domain.WebhookDelivery) error {
	if f.recordAttemptFn == nil {
		return nil
	}
	return f.recordAttemptFn(ctx, d)
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, id, reason string) error {
	if f.markFailedFn == nil {
		return nil
	}
	return f.markFailedFn(ctx, id, reason)
}

func (f *fakeDeliveryRepo) ClearRetrySlot(ctx context.Context, id string, retryAt time.Time) error {
	if f.clearRetrySlotFn == nil {
		return nil
	}
	return f.clearRetrySlotFn(ctx, id, retryAt)
}

func (f *fakeDeliveryRepo) GetDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.WebhookDelivery, error) {
	if f.getDueRetriesFn == nil {
		return nil, nil
	}
	return f.getDueRetriesFn(ctx, now, limit)
}

func (f *fakeDeliveryRepo) FailNonTerminalByNotification(ctx context.Context, notificationID, reason string) (int64, error) {
	if f.failNonTerminalFn == nil {
		return 0, nil
	}
	return f.failNonTerminalFn(ctx, notificationID, reason)
}

type publishedMessage struct {
	Queue string
	Msg   queue.TaskMessage
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.TaskMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.TaskMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Queue: queueName, Msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) messages() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn == nil {
		<-ctx.Done()
		return nil
	}
	return f.consumeFn(ctx, queueName, handler)
}

func (f *fakeConsumer) Close() error { return nil }

type fakeProvider struct {
	name      string
	async     bool
	sendFn    func(ctx context.Context, msg provider.Message) (*provider.SendResult, error)
	sendCalls int
}

func (f *fakeProvider) Name() string        { return f.name }
func (f *fakeProvider) DeliversAsync() bool { return f.async }

func (f *fakeProvider) SendSMS(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	f.sendCalls++
	return f.sendFn(ctx, msg)
}

func (f *fakeProvider) SendEmail(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	f.sendCalls++
	return f.sendFn(ctx, msg)
}

func (f *fakeProvider) SendWhatsApp(ctx context.Context, msg provider.Message) (*provider.SendResult, error) {
	f.sendCalls++
	return f.sendFn(ctx, msg)
}

type fakeSelector struct {
	selectFn func(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error)
}

func (f *fakeSelector) Select(ctx context.Context, channel domain.Channel, explicitID string) (provider.Provider, *domain.Provider, error) {
	return f.selectFn(ctx, channel, explicitID)
}

type fakeGuard struct {
	checkFn func(ctx context.Context, key string) (bool, error)
}

func (f *fakeGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if f.checkFn == nil {
		return true, nil
	}
	return f.checkFn(ctx, key)
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeLimiter) Allow(_ context.Context, _ domain.Channel) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, channel)
}
