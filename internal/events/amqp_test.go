package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LeventeLantos/careops/internal/model"
)

type fakeChannel struct {
	declared   string
	declareErr error

	exchange string
	key      string
	msg      amqp.Publishing
}

var _ Channel = (*fakeChannel)(nil)

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = name + ":" + kind
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected publish deadline")
	}
	f.exchange = exchange
	f.key = key
	f.msg = msg
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := NewAMQPPublisher(ch, "careops.outbox")
	if err != nil {
		t.Fatalf("NewAMQPPublisher() error: %v", err)
	}
	if ch.declared != "careops.outbox:topic" {
		t.Fatalf("expected topic exchange declared, got %q", ch.declared)
	}

	ev := DeliveryEvent{
		QueueItemID:       9,
		InternalMessageID: "im_9",
		Kind:              model.JobProposta,
		Status:            model.Sent,
		ProviderMessageID: "wa_9",
		OccurredAt:        time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if ch.exchange != "careops.outbox" || ch.key != "outbox.sent" {
		t.Fatalf("unexpected exchange/key %q/%q", ch.exchange, ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.MessageId != "im_9" {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}

	var got DeliveryEvent
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if got.QueueItemID != 9 || got.ProviderMessageID != "wa_9" {
		t.Fatalf("unexpected event body %+v", got)
	}
}

func TestNewAMQPPublisher_DeclareError(t *testing.T) {
	t.Parallel()

	_, err := NewAMQPPublisher(&fakeChannel{declareErr: errors.New("channel closed")}, "x")
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}
