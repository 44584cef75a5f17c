package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// NewRobot describes a robot to register. Nil fields take their defaults:
// AwaitingInstruction and a full battery.
type NewRobot struct {
	Name    string             `json:"name"`
	Action  *model.RobotAction `json:"action,omitempty"`
	Battery *float64           `json:"batteryLevel,omitempty"`
}

// CreateRobot registers a robot and opens its first history interval.
func (c *Coordinator) CreateRobot(ctx context.Context, in NewRobot) (model.Robot, error) {
	action := model.ActionAwaitingInstruction
	if in.Action != nil {
		action = *in.Action
	}
	battery := float64(model.MaxBattery)
	if in.Battery != nil {
		battery = *in.Battery
	}
	var robot model.Robot
	err := c.run(ctx, "create_robot", func(ctx context.Context) error {
		return c.store.Update(ctx, func(tx store.Tx) (err error) {
			robot, err = c.registry.Create(ctx, tx, in.Name, action, battery)
			return err
		})
	})
	if err != nil {
		return model.Robot{}, err
	}
	c.publish([]events.Event{events.RobotEvent{Kind: events.RobotCreated, Robot: robot, Previous: robot.Action, At: robot.CreatedAt}})
	c.logger.Infof("robot %s registered (%s, %.0f%%)", robot.Name, robot.Action, robot.BatteryLevel)
	return robot, nil
}

// DeleteRobot closes the robot's open interval and removes it. Orders still
// waiting on the robot lose their waiter.
func (c *Coordinator) DeleteRobot(ctx context.Context, id string) error {
	var (
		robot model.Robot
		evs   []events.Event
	)
	err := c.run(ctx, "delete_robot", func(ctx context.Context) error {
		evs = nil
		release, err := c.locks.Acquire(ctx, RobotKey(id))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			robot, err = tx.GetRobot(ctx, id)
			if err != nil {
				return err
			}
			if err := c.registry.Delete(ctx, tx, id); err != nil {
				return err
			}
			orders, err := tx.ListOrders(ctx, model.OrderQuery{})
			if err != nil {
				return err
			}
			now := c.clock()
			for _, o := range orders {
				if o.WaiterID != id || o.Status == model.OrderArchived {
					continue
				}
				o.WaiterID = ""
				o.UpdatedAt = now
				if err := tx.UpdateOrder(ctx, &o); err != nil {
					return err
				}
			}
			evs = append(evs, events.RobotEvent{Kind: events.RobotDeleted, Robot: robot, Previous: robot.Action, At: now})
			return nil
		})
	})
	if err != nil {
		return err
	}
	c.publish(evs)
	c.logger.Infof("robot %s deleted", robot.Name)
	return nil
}

// SetRobotAction applies a manual action override from staff.
func (c *Coordinator) SetRobotAction(ctx context.Context, id string, action model.RobotAction) (model.Robot, error) {
	if !action.Valid() {
		return model.Robot{}, fmt.Errorf("%w: robot action %d", model.ErrInvalidArgument, int(action))
	}
	var (
		robot model.Robot
		evs   []events.Event
	)
	err := c.run(ctx, "set_robot_action", func(ctx context.Context) error {
		evs = nil
		release, err := c.locks.Acquire(ctx, RobotKey(id))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			robot, err = tx.GetRobot(ctx, id)
			if err != nil {
				return err
			}
			prev := robot.Action
			if err := c.registry.SetAction(ctx, tx, &robot, action); err != nil {
				return err
			}
			if prev != robot.Action {
				evs = append(evs, events.RobotEvent{Kind: events.RobotOverridden, Robot: robot, Previous: prev, At: c.clock()})
			}
			return nil
		})
	})
	if err != nil {
		return model.Robot{}, err
	}
	c.publish(evs)
	return robot, nil
}

// UpdateRobotTelemetry stores a telemetry report. When the battery crosses
// the usable threshold while the robot charges with a reservation, the
// robot starts serving the reserved table.
func (c *Coordinator) UpdateRobotTelemetry(ctx context.Context, id string, tel model.Telemetry) (model.Robot, error) {
	if tel.Battery != nil && math.IsNaN(*tel.Battery) {
		return model.Robot{}, fmt.Errorf("%w: battery is not a number", model.ErrInvalidArgument)
	}
	var (
		robot    model.Robot
		promoted *model.Assignment
		evs      []events.Event
	)
	err := c.run(ctx, "robot_telemetry", func(ctx context.Context) error {
		promoted, evs = nil, nil
		release, err := c.locks.Acquire(ctx, RobotKey(id))
		if err != nil {
			return err
		}
		defer release()

		var pendingOrder string
		err = c.store.View(ctx, func(tx store.Tx) error {
			r, err := tx.GetRobot(ctx, id)
			if err != nil {
				return err
			}
			if r.HasPending() {
				pendingOrder = r.Pending.OrderID
			}
			return nil
		})
		if err != nil {
			return err
		}
		releaseOrder, err := c.locks.Acquire(ctx, OrderKey(pendingOrder))
		if err != nil {
			return err
		}
		defer releaseOrder()

		return c.store.Update(ctx, func(tx store.Tx) error {
			robot, err = tx.GetRobot(ctx, id)
			if err != nil {
				return err
			}
			if robot.HasPending() && robot.Pending.OrderID != pendingOrder {
				return errSelectionMoved
			}
			prevBattery, prevAction := c.registry.ApplyTelemetry(&robot, tel)
			if c.cfg.TelemetryHistory > 0 {
				rec := model.TelemetryRecord{RobotID: robot.ID, Telemetry: *robot.Telemetry}
				if err := tx.AppendTelemetry(ctx, rec, c.cfg.TelemetryHistory); err != nil {
					return err
				}
			}
			promoted, err = c.registry.Promote(ctx, tx, &robot, prevBattery, c.policy.UsableBattery)
			if err != nil {
				return err
			}
			now := c.clock()
			if promoted == nil {
				if err := c.registry.SaveTelemetry(ctx, tx, &robot); err != nil {
					return err
				}
				evs = append(evs, events.TelemetryEvent{Robot: robot, At: now})
				return nil
			}
			if err := c.claimOrder(ctx, tx, promoted.OrderID, robot.ID, now); err != nil {
				return err
			}
			evs = append(evs,
				events.TelemetryEvent{Robot: robot, At: now},
				events.RobotEvent{Kind: events.RobotPromoted, Robot: robot, Previous: prevAction, TableID: promoted.TableID, OrderID: promoted.OrderID, At: now},
			)
			return nil
		})
	})
	if err != nil {
		return model.Robot{}, err
	}
	c.publish(evs)
	if promoted != nil {
		promotions.Inc()
		c.logger.Infof("robot %s charged to %.0f%%, now serving table %s", robot.Name, robot.BatteryLevel, promoted.TableID)
	}
	return robot, nil
}

// claimOrder makes robotID the waiter of the order. A vanished order is
// tolerated; the robot serves the table regardless.
func (c *Coordinator) claimOrder(ctx context.Context, tx store.Tx, orderID, robotID string, now time.Time) error {
	o, err := tx.GetOrder(ctx, orderID)
	if errors.Is(err, model.ErrNotFound) {
		c.logger.Warnf("promoted robot %s references missing order %s", robotID, orderID)
		return nil
	}
	if err != nil {
		return err
	}
	if o.WaiterID == robotID {
		return nil
	}
	o.WaiterID = robotID
	o.UpdatedAt = now
	return tx.UpdateOrder(ctx, &o)
}
