package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/internal/eventbus"
	"github.com/kilianp07/tablebot/test/util"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

func orderEvent(status, prev model.OrderStatus) events.OrderEvent {
	return events.OrderEvent{
		Order: model.Order{
			ID: "o1", TableID: "t3", WaiterID: "r1", Status: status, TotalPrice: 13.5,
			Items: []model.LineItem{{MenuItemID: "A", Quantity: 3}},
		},
		Previous: prev,
		At:       time.Date(2025, 6, 1, 19, 30, 0, 0, time.UTC),
	}
}

func TestStatusKey(t *testing.T) {
	cases := map[model.OrderStatus]string{
		model.OrderSubmitted:  "submitted",
		model.OrderInProgress: "sent",
		model.OrderCompleted:  "completed",
		model.OrderCancelled:  "cancelled",
	}
	for st, want := range cases {
		got, ok := StatusKey(st)
		assert.True(t, ok, st.String())
		assert.Equal(t, want, got)
	}
	for _, st := range []model.OrderStatus{model.OrderPending, model.OrderArchived} {
		_, ok := StatusKey(st)
		assert.False(t, ok, st.String())
	}
	assert.Equal(t, "kitchen.sent.t3", RoutingKey("sent", "t3"))
}

func TestPublishOrder(t *testing.T) {
	ch := &fakeChannel{}
	p := newKitchenPublisher(ch, Config{})

	sent, err := p.PublishOrder(context.Background(), orderEvent(model.OrderInProgress, model.OrderSubmitted))
	require.NoError(t, err)
	assert.True(t, sent)

	got := ch.all()
	require.Len(t, got, 1)
	assert.Equal(t, "orders_topic", got[0].exchange)
	assert.Equal(t, "kitchen.sent.t3", got[0].key)
	assert.Equal(t, "application/json", got[0].msg.ContentType)
	assert.Equal(t, amqp.Persistent, got[0].msg.DeliveryMode)

	var msg OrderMessage
	require.NoError(t, json.Unmarshal(got[0].msg.Body, &msg))
	assert.Equal(t, "o1", msg.OrderID)
	assert.Equal(t, "In-progress", msg.Status)
	assert.Equal(t, "Submitted", msg.PreviousStatus)
	assert.Equal(t, 13.5, msg.TotalPrice)
	require.Len(t, msg.Items, 1)
}

func TestPublishOrder_SkipsIgnoredStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := newKitchenPublisher(ch, Config{Exchange: "kitchen"})
	sent, err := p.PublishOrder(context.Background(), orderEvent(model.OrderArchived, model.OrderCompleted))
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, ch.all())
}

func TestPublishOrder_Error(t *testing.T) {
	p := newKitchenPublisher(&fakeChannel{err: errors.New("channel closed")}, Config{})
	_, err := p.PublishOrder(context.Background(), orderEvent(model.OrderSubmitted, model.OrderPending))
	assert.ErrorContains(t, err, "kitchen.submitted.t3")
}

func TestPublishOrder_Nack(t *testing.T) {
	acks := make(chan amqp.Confirmation, 1)
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
	p := newKitchenPublisher(&fakeChannel{}, Config{})
	p.acks = acks
	_, err := p.PublishOrder(context.Background(), orderEvent(model.OrderCancelled, model.OrderPending))
	assert.ErrorContains(t, err, "nacked")
}

func TestPublishOrder_LateConfirmIsDiscarded(t *testing.T) {
	acks := make(chan amqp.Confirmation, 2)
	p := newKitchenPublisher(&fakeChannel{}, Config{ConfirmTimeoutMS: 10})
	p.acks = acks

	_, err := p.PublishOrder(context.Background(), orderEvent(model.OrderSubmitted, model.OrderPending))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The first publish is nacked after its wait expired; the second is acked.
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: false}
	acks <- amqp.Confirmation{DeliveryTag: 2, Ack: true}
	sent, err := p.PublishOrder(context.Background(), orderEvent(model.OrderInProgress, model.OrderSubmitted))
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Empty(t, acks)
}

func TestPublishOrder_FailedPublishKeepsTag(t *testing.T) {
	ch := &fakeChannel{err: errors.New("flow")}
	acks := make(chan amqp.Confirmation, 1)
	p := newKitchenPublisher(ch, Config{})
	p.acks = acks

	_, err := p.PublishOrder(context.Background(), orderEvent(model.OrderSubmitted, model.OrderPending))
	require.Error(t, err)

	ch.mu.Lock()
	ch.err = nil
	ch.mu.Unlock()
	acks <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	sent, err := p.PublishOrder(context.Background(), orderEvent(model.OrderSubmitted, model.OrderPending))
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestStartKitchenNotifier(t *testing.T) {
	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	ch := &fakeChannel{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartKitchenNotifier(ctx, bus, newKitchenPublisher(ch, Config{}), logger.NopLogger{})

	bus.Publish(events.RobotEvent{Kind: events.RobotAssigned})
	bus.Publish(orderEvent(model.OrderSubmitted, model.OrderPending))
	bus.Publish(orderEvent(model.OrderArchived, model.OrderSubmitted))
	bus.Publish(orderEvent(model.OrderCompleted, model.OrderInProgress))

	require.Eventually(t, func() bool { return len(ch.all()) == 2 }, time.Second, 5*time.Millisecond)
	got := ch.all()
	assert.Equal(t, "kitchen.submitted.t3", got[0].key)
	assert.Equal(t, "kitchen.completed.t3", got[1].key)
}

func TestKitchenPublisher_Integration(t *testing.T) {
	util.RequireDocker(t)
	ctx := context.Background()
	url, cleanup, err := util.StartRabbitMQ(ctx)
	if err != nil {
		t.Skipf("unable to start rabbitmq container: %v", err)
	}
	t.Cleanup(cleanup)

	p, err := Dial(Config{URL: url})
	require.NoError(t, err)
	defer p.Close()

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "kitchen.*.t3", "orders_topic", false, nil))
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	sent, err := p.PublishOrder(ctx, orderEvent(model.OrderSubmitted, model.OrderPending))
	require.NoError(t, err)
	require.True(t, sent)

	select {
	case d := <-deliveries:
		assert.Equal(t, "kitchen.submitted.t3", d.RoutingKey)
	case <-time.After(5 * time.Second):
		t.Fatal("no delivery")
	}
}
