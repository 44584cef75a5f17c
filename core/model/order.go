package model

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderSubmitted
	OrderInProgress
	OrderCompleted
	OrderCancelled
	OrderArchived
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "Pending"
	case OrderSubmitted:
		return "Submitted"
	case OrderInProgress:
		return "In-progress"
	case OrderCompleted:
		return "Completed"
	case OrderCancelled:
		return "Cancelled"
	case OrderArchived:
		return "Archived"
	default:
		return "unknown"
	}
}

// ParseOrderStatus converts the wire representation to an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	for st := OrderPending; st <= OrderArchived; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown order status %q", ErrInvalidArgument, s)
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	if s < OrderPending || s > OrderArchived {
		return nil, fmt.Errorf("invalid order status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(b []byte) error {
	v, err := ParseOrderStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Editable reports whether line items may still change.
func (s OrderStatus) Editable() bool {
	switch s {
	case OrderArchived, OrderCancelled, OrderCompleted:
		return false
	default:
		return true
	}
}

// LineItem is one menu item entry of an order.
type LineItem struct {
	MenuItemID   string `json:"menuItem"`
	Quantity     int    `json:"quantity"`
	Instructions string `json:"specialInstructions"`
}

// Order is the active or historical order of a table sitting.
type Order struct {
	ID          string      `json:"id"`
	TableID     string      `json:"table"`
	WaiterID    string      `json:"waiter,omitempty"`
	MenuID      string      `json:"menu,omitempty"`
	Items       []LineItem  `json:"items"`
	Status      OrderStatus `json:"status"`
	TotalPrice  float64     `json:"totalPrice"`
	PlacedAt    time.Time   `json:"placedAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
	Version     int64       `json:"version"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// FindItem returns the index of the line matching menuItem and
// instructions, or -1.
func (o Order) FindItem(menuItem, instructions string) int {
	for i, it := range o.Items {
		if it.MenuItemID == menuItem && it.Instructions == instructions {
			return i
		}
	}
	return -1
}

// Reset empties the order and puts it back to Pending.
func (o *Order) Reset() {
	o.Items = []LineItem{}
	o.Status = OrderPending
	o.TotalPrice = 0
	o.MenuID = ""
}

// MenuItem is the priced catalog entry referenced by line items.
type MenuItem struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"isAvailable"`
}
