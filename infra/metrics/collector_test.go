package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/events"
	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/internal/eventbus"
)

type recordSink struct {
	coremetrics.NopSink
	mu         sync.Mutex
	states     []coremetrics.RobotStateEvent
	promotions []coremetrics.PromotionEvent
	orders     []coremetrics.OrderStatusEvent
	fleets     []map[string]int
}

func (r *recordSink) RecordRobotState(ev coremetrics.RobotStateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, ev)
	return nil
}

func (r *recordSink) RecordPromotion(ev coremetrics.PromotionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promotions = append(r.promotions, ev)
	return nil
}

func (r *recordSink) RecordOrderStatus(ev coremetrics.OrderStatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, ev)
	return nil
}

func (r *recordSink) RecordFleet(m map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fleets = append(r.fleets, m)
	return nil
}

func (r *recordSink) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states), len(r.promotions), len(r.orders)
}

func TestRecordEvent(t *testing.T) {
	sink := &recordSink{}
	now := time.Now()
	robot := model.Robot{ID: "r1", Name: "Ava", Action: model.ActionServing, BatteryLevel: 60}

	require.NoError(t, recordEvent(sink, events.RobotEvent{Kind: events.RobotPromoted, Robot: robot, TableID: "t1", OrderID: "o1", At: now}))
	require.NoError(t, recordEvent(sink, events.TelemetryEvent{Robot: robot, At: now}))
	require.NoError(t, recordEvent(sink, events.OrderEvent{
		Order:    model.Order{ID: "o1", TableID: "t1", Status: model.OrderSubmitted, Items: []model.LineItem{{MenuItemID: "a", Quantity: 1}}},
		Previous: model.OrderPending,
		At:       now,
	}))
	require.NoError(t, recordEvent(sink, events.TableEvent{At: now}))

	require.Len(t, sink.states, 2)
	assert.Equal(t, "promoted", sink.states[0].Reason)
	assert.Equal(t, "serving", sink.states[0].Action)
	assert.Equal(t, "telemetry", sink.states[1].Reason)
	require.Len(t, sink.promotions, 1)
	assert.Equal(t, "t1", sink.promotions[0].TableID)
	assert.Equal(t, 60.0, sink.promotions[0].Battery)
	require.Len(t, sink.orders, 1)
	assert.Equal(t, "Submitted", sink.orders[0].Status)
	assert.Equal(t, "Pending", sink.orders[0].Previous)
	assert.Equal(t, 1, sink.orders[0].Items)
}

func TestStartEventCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.NewTyped[events.Event]()
	defer bus.Close()
	sink := &recordSink{}
	StartEventCollector(ctx, bus, sink, nil)

	assert.Eventually(t, func() bool {
		bus.Publish(events.RobotEvent{Kind: events.RobotCreated, Robot: model.Robot{ID: "r1"}, At: time.Now()})
		states, _, _ := sink.counts()
		return states > 0
	}, time.Second, 10*time.Millisecond)
}

type listerFunc func(ctx context.Context) ([]model.Robot, error)

func (f listerFunc) ListRobots(ctx context.Context) ([]model.Robot, error) { return f(ctx) }

func TestReportFleet(t *testing.T) {
	sink := &recordSink{}
	robots := listerFunc(func(context.Context) ([]model.Robot, error) {
		return []model.Robot{
			{Action: model.ActionCharging},
			{Action: model.ActionCharging},
			{Action: model.ActionServing},
		}, nil
	})
	require.NoError(t, reportFleet(context.Background(), robots, sink))
	require.Len(t, sink.fleets, 1)
	assert.Equal(t, map[string]int{"charging": 2, "serving": 1}, sink.fleets[0])

	failing := listerFunc(func(context.Context) ([]model.Robot, error) { return nil, errors.New("down") })
	assert.Error(t, reportFleet(context.Background(), failing, sink))
}
