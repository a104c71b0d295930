package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/selimunal/notification-relay/internal/domain"
)

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	rejected bool
	requeue  bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}

func taskDelivery(t *testing.T, ack *fakeAcknowledger, redelivered bool) amqp.Delivery {
	t.Helper()

	body, err := json.Marshal(TaskMessage{
		Task:           TaskSendNotification,
		NotificationID: "n-1",
		Priority:       domain.PriorityNormal,
	})
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		Redelivered:  redelivered,
	}
}

func TestConsumerAcksHandledTask(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	ack := &fakeAcknowledger{}

	err := consumer.handleDelivery(context.Background(), taskDelivery(t, ack, false),
		func(ctx context.Context, msg TaskMessage) error { return nil })
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if !ack.acked || ack.nacked || ack.rejected {
		t.Fatalf("acknowledger = %+v, want ack only", ack)
	}
}

func TestConsumerRequeuesFirstFailure(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	ack := &fakeAcknowledger{}

	err := consumer.handleDelivery(context.Background(), taskDelivery(t, ack, false),
		func(ctx context.Context, msg TaskMessage) error { return fmt.Errorf("transient") })
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if !ack.nacked || !ack.requeue {
		t.Fatalf("acknowledger = %+v, want nack with requeue", ack)
	}
}

func TestConsumerDeadLettersRedeliveredFailure(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	ack := &fakeAcknowledger{}

	err := consumer.handleDelivery(context.Background(), taskDelivery(t, ack, true),
		func(ctx context.Context, msg TaskMessage) error { return fmt.Errorf("still failing") })
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if !ack.nacked || ack.requeue {
		t.Fatalf("acknowledger = %+v, want nack without requeue", ack)
	}
}

func TestConsumerDeadLettersMalformedMessage(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	ack := &fakeAcknowledger{}
	delivery := amqp.Delivery{Acknowledger: ack, Body: []byte("{broken")}

	err := consumer.handleDelivery(context.Background(), delivery,
		func(ctx context.Context, msg TaskMessage) error {
			t.Fatal("handler must not run for malformed messages")
			return nil
		})
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if !ack.rejected || ack.requeue {
		t.Fatalf("acknowledger = %+v, want reject without requeue", ack)
	}
}
