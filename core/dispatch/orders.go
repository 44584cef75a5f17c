package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/orders"
	"github.com/kilianp07/tablebot/core/store"
)

// SendResult is the order sent to the kitchen and its serving robot.
type SendResult struct {
	Order model.Order `json:"order"`
	Robot model.Robot `json:"robot"`
}

// PutMenuItem creates or replaces a priced menu item.
func (c *Coordinator) PutMenuItem(ctx context.Context, m model.MenuItem) error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: menu item id required", model.ErrInvalidArgument)
	}
	if m.Price < 0 {
		return fmt.Errorf("%w: menu item %s has a negative price", model.ErrInvalidArgument, m.ID)
	}
	return c.store.Update(ctx, func(tx store.Tx) error {
		return tx.PutMenuItem(ctx, m)
	})
}

// ActiveOrder returns the table's current order, creating an empty Pending
// one when the table has none.
func (c *Coordinator) ActiveOrder(ctx context.Context, tableID string) (model.Order, error) {
	var order model.Order
	err := c.run(ctx, "active_order", func(ctx context.Context) error {
		release, err := c.locks.Acquire(ctx, TableKey(tableID))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			if _, err := tx.GetTable(ctx, tableID); err != nil {
				return err
			}
			order, err = tx.ActiveOrder(ctx, tableID)
			if !errors.Is(err, model.ErrNotFound) {
				return err
			}
			order = c.newOrder(tableID, c.clock())
			return tx.CreateOrder(ctx, &order)
		})
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// MutateOrder changes the items of an order or submits it. The total price
// is recomputed in the same transaction.
func (c *Coordinator) MutateOrder(ctx context.Context, id string, m orders.Mutation) (model.Order, error) {
	action, err := orders.ParseAction(string(m.Action))
	if err != nil {
		return model.Order{}, err
	}
	m.Action = action
	if m.Quantity != nil && *m.Quantity < 1 {
		return model.Order{}, fmt.Errorf("%w: quantity must be at least 1", model.ErrInvalidArgument)
	}
	var (
		order model.Order
		evs   []events.Event
	)
	err = c.run(ctx, "mutate_order", func(ctx context.Context) error {
		evs = nil
		release, err := c.locks.Acquire(ctx, OrderKey(id))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			order, err = tx.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			prev := order.Status
			if err := orders.Apply(ctx, &order, m, orders.TxPricer{Tx: tx}); err != nil {
				return err
			}
			now := c.clock()
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, &order); err != nil {
				return err
			}
			if order.Status != prev {
				evs = append(evs, events.OrderEvent{Order: order, Previous: prev, At: now})
			}
			return nil
		})
	})
	if err != nil {
		return model.Order{}, err
	}
	c.publish(evs)
	return order, nil
}

// SendOrder hands a submitted order to its robot: the order goes
// In-progress and the robot starts serving the table.
func (c *Coordinator) SendOrder(ctx context.Context, id string) (SendResult, error) {
	var (
		res SendResult
		evs []events.Event
	)
	err := c.run(ctx, "send_order", func(ctx context.Context) error {
		evs = nil
		var waiter string
		err := c.store.View(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrder(ctx, id)
			waiter = o.WaiterID
			return err
		})
		if err != nil {
			return err
		}
		release, err := c.locks.Acquire(ctx, RobotKey(waiter), OrderKey(id))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			order, err := tx.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			if order.WaiterID != waiter {
				return errSelectionMoved
			}
			prev := order.Status
			if err := orders.Send(&order); err != nil {
				return err
			}
			robot, err := tx.GetRobot(ctx, order.WaiterID)
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("waiter %s of order %s no longer exists: %w", order.WaiterID, order.ID, model.ErrInvalidTransition)
			}
			if err != nil {
				return err
			}
			prevAction := robot.Action
			if err := c.registry.Assign(ctx, tx, &robot, model.ActionServing, order.TableID, order.ID); err != nil {
				return err
			}
			now := c.clock()
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, &order); err != nil {
				return err
			}
			res = SendResult{Order: order, Robot: robot}
			evs = append(evs,
				events.OrderEvent{Order: order, Previous: prev, At: now},
				events.RobotEvent{Kind: events.RobotServing, Robot: robot, Previous: prevAction, TableID: order.TableID, OrderID: order.ID, At: now},
			)
			return nil
		})
	})
	if err != nil {
		return SendResult{}, err
	}
	c.publish(evs)
	c.logger.Infof("order %s sent, robot %s serving", res.Order.ID, res.Robot.Name)
	return res, nil
}

// CompleteOrder marks an In-progress order as served. The robot stays with
// the table until it is left.
func (c *Coordinator) CompleteOrder(ctx context.Context, id string) (model.Order, error) {
	return c.transitionOrder(ctx, "complete_order", id, func(o *model.Order, now time.Time) error {
		return orders.Complete(o, now)
	})
}

// CancelOrder aborts an order that was not sent yet.
func (c *Coordinator) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	return c.transitionOrder(ctx, "cancel_order", id, func(o *model.Order, _ time.Time) error {
		return orders.Cancel(o)
	})
}

func (c *Coordinator) transitionOrder(ctx context.Context, op, id string, apply func(*model.Order, time.Time) error) (model.Order, error) {
	var (
		order model.Order
		evs   []events.Event
	)
	err := c.run(ctx, op, func(ctx context.Context) error {
		evs = nil
		release, err := c.locks.Acquire(ctx, OrderKey(id))
		if err != nil {
			return err
		}
		defer release()
		return c.store.Update(ctx, func(tx store.Tx) error {
			order, err = tx.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			prev := order.Status
			now := c.clock()
			if err := apply(&order, now); err != nil {
				return err
			}
			order.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, &order); err != nil {
				return err
			}
			evs = append(evs, events.OrderEvent{Order: order, Previous: prev, At: now})
			return nil
		})
	})
	if err != nil {
		return model.Order{}, err
	}
	c.publish(evs)
	return order, nil
}

func archiveOrder(o *model.Order, now time.Time) {
	orders.Archive(o)
	o.UpdatedAt = now
}
