package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/tablebot/core/events"
	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
	"github.com/kilianp07/tablebot/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records robot and
// order changes on sink. It stops when the context is canceled or the bus
// is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink, log logger.Logger) {
	if bus == nil || sink == nil {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := recordEvent(sink, ev); err != nil {
					log.Warnf("record %T: %v", ev, err)
				}
			}
		}
	}()
}

func recordEvent(sink coremetrics.MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.RobotEvent:
		if r, ok := sink.(coremetrics.RobotStateRecorder); ok {
			if err := r.RecordRobotState(robotState(e.Robot, e.Kind.String(), e.At)); err != nil {
				return err
			}
		}
		if e.Kind != events.RobotPromoted {
			return nil
		}
		if r, ok := sink.(coremetrics.PromotionRecorder); ok {
			return r.RecordPromotion(coremetrics.PromotionEvent{
				RobotID: e.Robot.ID,
				TableID: e.TableID,
				OrderID: e.OrderID,
				Battery: e.Robot.BatteryLevel,
				Time:    e.At,
			})
		}
	case events.TelemetryEvent:
		if r, ok := sink.(coremetrics.RobotStateRecorder); ok {
			return r.RecordRobotState(robotState(e.Robot, "telemetry", e.At))
		}
	case events.OrderEvent:
		if r, ok := sink.(coremetrics.OrderStatusRecorder); ok {
			return r.RecordOrderStatus(coremetrics.OrderStatusEvent{
				OrderID:  e.Order.ID,
				TableID:  e.Order.TableID,
				WaiterID: e.Order.WaiterID,
				Status:   e.Order.Status.String(),
				Previous: e.Previous.String(),
				Items:    len(e.Order.Items),
				Total:    e.Order.TotalPrice,
				Time:     e.At,
			})
		}
	}
	return nil
}

func robotState(r model.Robot, reason string, at time.Time) coremetrics.RobotStateEvent {
	return coremetrics.RobotStateEvent{
		RobotID: r.ID,
		Name:    r.Name,
		Action:  r.Action.String(),
		Battery: r.BatteryLevel,
		Reason:  reason,
		Time:    at,
	}
}

// RobotLister lists the robots known to the coordinator.
type RobotLister interface {
	ListRobots(ctx context.Context) ([]model.Robot, error)
}

// StartFleetReporter records the number of robots per action every
// interval until ctx is done.
func StartFleetReporter(ctx context.Context, robots RobotLister, sink coremetrics.FleetRecorder, interval time.Duration, log logger.Logger) {
	if robots == nil || sink == nil || interval <= 0 {
		return
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := reportFleet(ctx, robots, sink); err != nil && ctx.Err() == nil {
				log.Warnf("fleet report: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func reportFleet(ctx context.Context, robots RobotLister, sink coremetrics.FleetRecorder) error {
	list, err := robots.ListRobots(ctx)
	if err != nil {
		return err
	}
	byAction := make(map[string]int)
	for _, r := range list {
		byAction[r.Action.String()]++
	}
	return sink.RecordFleet(byAction)
}
