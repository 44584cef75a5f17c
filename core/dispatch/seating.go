package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// errSelectionMoved is returned when the robot picked before locking is no
// longer the policy's choice inside the transaction.
var errSelectionMoved = fmt.Errorf("%w: robot selection changed", model.ErrVersionConflict)

// SeatResult describes a seated table. Robot is nil when the policy found
// no robot to assign.
type SeatResult struct {
	Table model.Table  `json:"table"`
	Order model.Order  `json:"order"`
	Robot *model.Robot `json:"robot"`
	Mode  Mode         `json:"mode"`
}

// LeaveResult describes a cleared table. Order is the archived order, if
// the table had one; Robot is its released waiter.
type LeaveResult struct {
	Table model.Table  `json:"table"`
	Order *model.Order `json:"order"`
	Robot *model.Robot `json:"robot,omitempty"`
}

// assignment is what the policy decided for one order inside a transaction.
type assignment struct {
	robot *model.Robot
	busy  *model.Robot
	mode  Mode
	evs   []events.Event
}

// CreateTable adds a table with a unique number.
func (c *Coordinator) CreateTable(ctx context.Context, number int) (model.Table, error) {
	if number < 1 {
		return model.Table{}, fmt.Errorf("%w: table number must be at least 1", model.ErrInvalidArgument)
	}
	t := model.Table{ID: uuid.NewString(), Number: number}
	err := c.run(ctx, "create_table", func(ctx context.Context) error {
		t.UpdatedAt = c.clock()
		return c.store.Update(ctx, func(tx store.Tx) error {
			return tx.CreateTable(ctx, &t)
		})
	})
	if err != nil {
		return model.Table{}, err
	}
	c.logger.Infof("table %d created", t.Number)
	return t, nil
}

// SeatTable occupies a table, resets or creates its Pending order and asks
// the policy for a robot. When every robot is busy, or none exists, the
// seating is kept and a *model.BusyError or model.ErrConfiguration is
// returned together with the result.
func (c *Coordinator) SeatTable(ctx context.Context, tableID string, headCount int) (SeatResult, error) {
	if headCount < 1 {
		return SeatResult{}, fmt.Errorf("%w: head count must be at least 1, got %d", model.ErrInvalidArgument, headCount)
	}
	if tableID == "" {
		return SeatResult{}, fmt.Errorf("%w: table id required", model.ErrInvalidArgument)
	}
	start := time.Now()
	var (
		res  SeatResult
		busy *model.Robot
		evs  []events.Event
	)
	err := c.run(ctx, "seat_table", func(ctx context.Context) error {
		res, busy, evs = SeatResult{}, nil, nil
		release, err := c.locks.Acquire(ctx, TableKey(tableID))
		if err != nil {
			return err
		}
		defer release()
		candidate, err := c.candidate(ctx)
		if err != nil {
			return err
		}
		if candidate != "" {
			releaseRobot, err := c.locks.Acquire(ctx, RobotKey(candidate))
			if err != nil {
				return err
			}
			defer releaseRobot()
		}
		return c.store.Update(ctx, func(tx store.Tx) error {
			table, err := tx.GetTable(ctx, tableID)
			if err != nil {
				return err
			}
			now := c.clock()
			order, created, err := c.seatOrder(ctx, tx, tableID, now)
			if err != nil {
				return err
			}
			table.Seat(headCount)
			table.UpdatedAt = now
			if err := tx.UpdateTable(ctx, &table); err != nil {
				return err
			}
			a, err := c.assign(ctx, tx, table, &order, candidate)
			if err != nil {
				return err
			}
			if created {
				err = tx.CreateOrder(ctx, &order)
			} else {
				err = tx.UpdateOrder(ctx, &order)
			}
			if err != nil {
				return err
			}
			res = SeatResult{Table: table, Order: order, Robot: a.robot, Mode: a.mode}
			busy = a.busy
			evs = append([]events.Event{events.TableEvent{Table: table, Outcome: seatOutcome(a.mode), RobotID: order.WaiterID, At: now}}, a.evs...)
			return nil
		})
	})
	if err != nil {
		return SeatResult{}, err
	}
	c.publish(evs)
	c.recordSeating(res, headCount, time.Since(start))
	c.logger.Infof("table %d seated for %d, assignment %s", res.Table.Number, headCount, res.Mode)
	return res, c.outcomeErr("seat_table", res, busy)
}

// RetryAssignment re-runs the policy for a seated table whose order has no
// robot yet. Items of the order are kept.
func (c *Coordinator) RetryAssignment(ctx context.Context, tableID string) (SeatResult, error) {
	var (
		res  SeatResult
		busy *model.Robot
		evs  []events.Event
	)
	err := c.run(ctx, "retry_assignment", func(ctx context.Context) error {
		res, busy, evs = SeatResult{}, nil, nil
		release, err := c.locks.Acquire(ctx, TableKey(tableID))
		if err != nil {
			return err
		}
		defer release()
		candidate, err := c.candidate(ctx)
		if err != nil {
			return err
		}
		if candidate != "" {
			releaseRobot, err := c.locks.Acquire(ctx, RobotKey(candidate))
			if err != nil {
				return err
			}
			defer releaseRobot()
		}
		return c.store.Update(ctx, func(tx store.Tx) error {
			table, err := tx.GetTable(ctx, tableID)
			if err != nil {
				return err
			}
			if !table.Occupied {
				return fmt.Errorf("table %d is not seated: %w", table.Number, model.ErrInvalidTransition)
			}
			order, err := tx.ActiveOrder(ctx, tableID)
			created := errors.Is(err, model.ErrNotFound)
			switch {
			case created:
				order = c.newOrder(tableID, c.clock())
			case err != nil:
				return err
			case !order.Status.Editable():
				return fmt.Errorf("order %s is %s: %w", order.ID, order.Status, model.ErrInvalidTransition)
			}
			prevWaiter := order.WaiterID
			a, err := c.assign(ctx, tx, table, &order, candidate)
			if err != nil {
				return err
			}
			if created {
				err = tx.CreateOrder(ctx, &order)
			} else if order.WaiterID != prevWaiter {
				order.UpdatedAt = c.clock()
				err = tx.UpdateOrder(ctx, &order)
			}
			if err != nil {
				return err
			}
			res = SeatResult{Table: table, Order: order, Robot: a.robot, Mode: a.mode}
			busy, evs = a.busy, a.evs
			return nil
		})
	})
	if err != nil {
		return SeatResult{}, err
	}
	c.publish(evs)
	return res, c.outcomeErr("retry_assignment", res, busy)
}

// LeaveTable frees the table, archives its active order and returns the
// order's robot to AwaitingInstruction. Leaving an empty table without an
// active order changes nothing.
func (c *Coordinator) LeaveTable(ctx context.Context, tableID string) (LeaveResult, error) {
	var (
		res LeaveResult
		evs []events.Event
	)
	err := c.run(ctx, "leave_table", func(ctx context.Context) error {
		res, evs = LeaveResult{}, nil
		release, err := c.locks.Acquire(ctx, TableKey(tableID))
		if err != nil {
			return err
		}
		defer release()

		var snap model.Order
		err = c.store.View(ctx, func(tx store.Tx) error {
			o, err := tx.ActiveOrder(ctx, tableID)
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			snap = o
			return err
		})
		if err != nil {
			return err
		}
		releaseRest, err := c.locks.Acquire(ctx, RobotKey(snap.WaiterID), OrderKey(snap.ID))
		if err != nil {
			return err
		}
		defer releaseRest()

		return c.store.Update(ctx, func(tx store.Tx) error {
			table, err := tx.GetTable(ctx, tableID)
			if err != nil {
				return err
			}
			order, err := tx.ActiveOrder(ctx, tableID)
			found := err == nil
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			if found && (order.ID != snap.ID || order.WaiterID != snap.WaiterID) {
				return errSelectionMoved
			}
			if !found && snap.ID != "" {
				return errSelectionMoved
			}
			res.Table = table
			if !found && !table.Occupied {
				return nil
			}

			now := c.clock()
			if table.Occupied {
				table.Clear()
				table.UpdatedAt = now
				if err := tx.UpdateTable(ctx, &table); err != nil {
					return err
				}
			}
			res.Table = table
			evs = append(evs, events.TableEvent{Table: table, Outcome: events.SeatLeft, At: now})
			if !found {
				return nil
			}

			prev := order.Status
			archiveOrder(&order, now)
			if err := tx.UpdateOrder(ctx, &order); err != nil {
				return err
			}
			res.Order = &order
			evs = append(evs, events.OrderEvent{Order: order, Previous: prev, At: now})
			if order.WaiterID == "" {
				return nil
			}

			robot, err := tx.GetRobot(ctx, order.WaiterID)
			if errors.Is(err, model.ErrNotFound) {
				c.logger.Warnf("waiter %s of order %s no longer exists", order.WaiterID, order.ID)
				return nil
			}
			if err != nil {
				return err
			}
			prevAction := robot.Action
			if err := c.registry.Release(ctx, tx, &robot); err != nil {
				return err
			}
			res.Robot = &robot
			evs = append(evs, events.RobotEvent{Kind: events.RobotReleased, Robot: robot, Previous: prevAction, TableID: table.ID, OrderID: order.ID, At: now})
			return nil
		})
	})
	if err != nil {
		return LeaveResult{}, err
	}
	c.publish(evs)
	if len(evs) > 0 {
		c.logger.Infof("table %d left", res.Table.Number)
	}
	return res, nil
}

// candidate runs the policy on a snapshot and returns the robot that has to
// be locked before the transaction, if any.
func (c *Coordinator) candidate(ctx context.Context) (string, error) {
	var id string
	err := c.store.View(ctx, func(tx store.Tx) error {
		rs, err := tx.ListRobots(ctx)
		if err != nil {
			return err
		}
		sel := SelectRobot(rs, c.policy)
		if sel.Mode == ModeImmediate || sel.Mode == ModePending {
			id = sel.Robot.ID
		}
		return nil
	})
	return id, err
}

// seatOrder returns the table's Pending order emptied for a new sitting, or
// a fresh order when the table has none.
func (c *Coordinator) seatOrder(ctx context.Context, tx store.Tx, tableID string, now time.Time) (model.Order, bool, error) {
	o, err := tx.ActiveOrder(ctx, tableID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.newOrder(tableID, now), true, nil
	case err != nil:
		return model.Order{}, false, err
	case o.Status != model.OrderPending:
		return model.Order{}, false, fmt.Errorf("table already has a %s order %s, leave the table first: %w",
			o.Status, o.ID, model.ErrInvalidTransition)
	}
	o.Reset()
	o.UpdatedAt = now
	return o, false, nil
}

func (c *Coordinator) newOrder(tableID string, now time.Time) model.Order {
	return model.Order{
		ID:        uuid.NewString(),
		TableID:   tableID,
		Items:     []model.LineItem{},
		Status:    model.OrderPending,
		PlacedAt:  now,
		UpdatedAt: now,
	}
}

// assign gives order a robot. A waiter still bound to the order is kept;
// otherwise the policy runs on the transaction's view of the robots and
// the chosen robot must be the locked one.
func (c *Coordinator) assign(ctx context.Context, tx store.Tx, table model.Table, order *model.Order, locked string) (assignment, error) {
	if order.WaiterID != "" {
		r, bound, err := c.boundWaiter(ctx, tx, *order)
		if err != nil {
			return assignment{}, err
		}
		if bound {
			mode := ModeImmediate
			if r.HasPending() {
				mode = ModePending
			}
			return assignment{robot: &r, mode: mode}, nil
		}
		order.WaiterID = ""
	}

	rs, err := tx.ListRobots(ctx)
	if err != nil {
		return assignment{}, err
	}
	sel := SelectRobot(rs, c.policy)
	switch sel.Mode {
	case ModeNone:
		return assignment{mode: ModeNone}, nil
	case ModeBusy:
		return assignment{busy: sel.Robot, mode: ModeBusy}, nil
	}
	if sel.Robot.ID != locked {
		return assignment{}, errSelectionMoved
	}

	robot := *sel.Robot
	prev := robot.Action
	now := c.clock()
	order.WaiterID = robot.ID
	ev := events.RobotEvent{Robot: robot, Previous: prev, TableID: table.ID, OrderID: order.ID, At: now}
	if sel.Mode == ModeImmediate {
		if err := c.registry.Assign(ctx, tx, &robot, c.policy.AssignAction, table.ID, order.ID); err != nil {
			return assignment{}, err
		}
		ev.Kind = events.RobotAssigned
	} else {
		if err := c.registry.Reserve(ctx, tx, &robot, model.Assignment{TableID: table.ID, OrderID: order.ID}); err != nil {
			return assignment{}, err
		}
		ev.Kind = events.RobotDeferred
	}
	ev.Robot = robot
	return assignment{robot: &robot, mode: sel.Mode, evs: []events.Event{ev}}, nil
}

// boundWaiter reports whether the order's waiter is still working on it,
// either reserved for it or with an open interval on it.
func (c *Coordinator) boundWaiter(ctx context.Context, tx store.Tx, o model.Order) (model.Robot, bool, error) {
	r, err := tx.GetRobot(ctx, o.WaiterID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Robot{}, false, nil
	}
	if err != nil {
		return model.Robot{}, false, err
	}
	if r.Pending != nil && r.Pending.OrderID == o.ID {
		return r, true, nil
	}
	cur, err := c.ledger.Current(ctx, tx, r.ID)
	if errors.Is(err, model.ErrNotFound) {
		return r, false, nil
	}
	if err != nil {
		return model.Robot{}, false, err
	}
	return r, cur.OrderID == o.ID && r.Action != model.ActionAwaitingInstruction, nil
}

// outcomeErr turns a committed Busy or None assignment into the error
// returned next to the seated table.
func (c *Coordinator) outcomeErr(op string, res SeatResult, busy *model.Robot) error {
	var err error
	switch res.Mode {
	case ModeBusy:
		if busy == nil {
			err = fmt.Errorf("table %d seated without robot: %w", res.Table.Number, model.ErrConflict)
		} else {
			err = &model.BusyError{Robot: *busy}
		}
	case ModeNone:
		err = fmt.Errorf("table %d seated without robot: %w", res.Table.Number, model.ErrConfiguration)
	default:
		return nil
	}
	operationErrors.WithLabelValues(op, errorKind(err)).Inc()
	return err
}

func (c *Coordinator) recordSeating(res SeatResult, headCount int, latency time.Duration) {
	seatOutcomes.WithLabelValues(res.Mode.String()).Inc()
	ev := metrics.SeatingEvent{
		TableID:     res.Table.ID,
		TableNumber: res.Table.Number,
		HeadCount:   headCount,
		Outcome:     res.Mode.String(),
		Latency:     latency,
		Time:        c.clock(),
	}
	if res.Robot != nil {
		ev.RobotID = res.Robot.ID
	}
	if err := c.sink.RecordSeating(ev); err != nil {
		c.logger.Errorf("seating metrics error: %v", err)
	}
}

func seatOutcome(m Mode) events.SeatOutcome {
	switch m {
	case ModeImmediate:
		return events.SeatImmediate
	case ModePending:
		return events.SeatPending
	case ModeBusy:
		return events.SeatBusy
	default:
		return events.SeatNoRobots
	}
}
