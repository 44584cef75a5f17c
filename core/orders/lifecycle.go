// Package orders implements the order state machine:
//
//	Pending --submit--> Submitted --send--> In-progress --complete--> Completed
//	Pending|Submitted --cancel--> Cancelled
//	any non-Archived --archive--> Archived
//
// Line items may change while the order is neither Completed, Cancelled
// nor Archived. The total price is recomputed on every item change, in the
// same transaction as the change itself.
package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// Action selects the mutation applied by Apply.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionRemove Action = "remove"
	ActionClear  Action = "clear"
	ActionSubmit Action = "submit"
)

// ParseAction validates a raw action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionAdd, ActionUpdate, ActionRemove, ActionClear, ActionSubmit:
		return a, nil
	default:
		return "", fmt.Errorf("%w: invalid order action %q", model.ErrInvalidArgument, s)
	}
}

// Mutation is one request against an order. Instructions selects the line
// together with MenuItemID; NewInstructions replaces them on update.
type Mutation struct {
	Action          Action  `json:"action"`
	MenuItemID      string  `json:"menuItem"`
	Quantity        *int    `json:"quantity,omitempty"`
	Instructions    string  `json:"specialInstructions"`
	NewInstructions *string `json:"newSpecialInstructions,omitempty"`
}

// Pricer resolves menu item prices.
type Pricer interface {
	Price(ctx context.Context, menuItemID string) (float64, error)
}

// TxPricer reads prices from the menu items visible in a transaction.
type TxPricer struct{ Tx store.Tx }

func (p TxPricer) Price(ctx context.Context, id string) (float64, error) {
	m, err := p.Tx.GetMenuItem(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.Price, nil
}

// Apply validates m against o and applies it. On error o is unchanged.
func Apply(ctx context.Context, o *model.Order, m Mutation, pricer Pricer) error {
	if _, err := ParseAction(string(m.Action)); err != nil {
		return err
	}
	if m.Action == ActionSubmit {
		return Submit(o)
	}
	if !o.Status.Editable() {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, model.ErrInvalidTransition)
	}
	if m.Quantity != nil && *m.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", model.ErrInvalidArgument)
	}
	if m.Action != ActionClear && m.MenuItemID == "" {
		return fmt.Errorf("%w: menu item required", model.ErrInvalidArgument)
	}

	next := o.Clone()
	idx := next.FindItem(m.MenuItemID, m.Instructions)
	switch m.Action {
	case ActionAdd:
		if _, err := pricer.Price(ctx, m.MenuItemID); err != nil {
			return err
		}
		qty := 1
		if m.Quantity != nil {
			qty = *m.Quantity
		}
		if idx >= 0 {
			next.Items[idx].Quantity += qty
		} else {
			next.Items = append(next.Items, model.LineItem{MenuItemID: m.MenuItemID, Quantity: qty, Instructions: m.Instructions})
		}
	case ActionUpdate:
		if idx < 0 {
			return fmt.Errorf("item %s not in order: %w", m.MenuItemID, model.ErrNotFound)
		}
		if m.Quantity != nil {
			next.Items[idx].Quantity = *m.Quantity
		}
		if m.NewInstructions != nil {
			next.Items[idx].Instructions = *m.NewInstructions
		}
	case ActionRemove:
		if idx < 0 {
			return fmt.Errorf("item %s not in order: %w", m.MenuItemID, model.ErrNotFound)
		}
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
	case ActionClear:
		next.Items = []model.LineItem{}
	}
	total, err := Total(ctx, next.Items, pricer)
	if err != nil {
		return err
	}
	next.TotalPrice = total
	*o = next
	return nil
}

// Total sums price × quantity over items.
func Total(ctx context.Context, items []model.LineItem, pricer Pricer) (float64, error) {
	var total float64
	for _, it := range items {
		p, err := pricer.Price(ctx, it.MenuItemID)
		if err != nil {
			return 0, fmt.Errorf("price %s: %w", it.MenuItemID, err)
		}
		total += p * float64(it.Quantity)
	}
	return total, nil
}

// Submit moves a Pending order to Submitted.
func Submit(o *model.Order) error {
	if o.Status != model.OrderPending {
		return fmt.Errorf("submit order %s in status %s: %w", o.ID, o.Status, model.ErrInvalidTransition)
	}
	o.Status = model.OrderSubmitted
	return nil
}

// Send moves a Submitted order with an assigned waiter to In-progress.
func Send(o *model.Order) error {
	if o.Status != model.OrderSubmitted {
		return fmt.Errorf("order %s not ready to send (%s): %w", o.ID, o.Status, model.ErrInvalidTransition)
	}
	if o.WaiterID == "" {
		return fmt.Errorf("no robot assigned to order %s: %w", o.ID, model.ErrInvalidTransition)
	}
	o.Status = model.OrderInProgress
	return nil
}

// Complete moves an In-progress order to Completed.
func Complete(o *model.Order, at time.Time) error {
	if o.Status != model.OrderInProgress {
		return fmt.Errorf("complete order %s in status %s: %w", o.ID, o.Status, model.ErrInvalidTransition)
	}
	o.Status = model.OrderCompleted
	o.CompletedAt = &at
	return nil
}

// Cancel aborts an order that has not been sent yet.
func Cancel(o *model.Order) error {
	switch o.Status {
	case model.OrderPending, model.OrderSubmitted:
		o.Status = model.OrderCancelled
		return nil
	default:
		return fmt.Errorf("cancel order %s in status %s: %w", o.ID, o.Status, model.ErrInvalidTransition)
	}
}

// Archive closes the sitting. Archived orders are never reopened.
func Archive(o *model.Order) {
	o.Status = model.OrderArchived
}
