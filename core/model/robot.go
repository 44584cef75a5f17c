package model

import (
	"fmt"
	"strings"
	"time"
)

// RobotAction is the activity a robot is currently performing.
type RobotAction int

const (
	ActionAwaitingInstruction RobotAction = iota
	ActionTakingOrder
	ActionFetchingOrder
	ActionServing
	ActionCharging
)

// MaxBattery is the upper bound of a battery percentage.
const MaxBattery = 100

// String returns the wire representation used by robots and staff tools.
func (a RobotAction) String() string {
	switch a {
	case ActionAwaitingInstruction:
		return "awaiting instruction"
	case ActionTakingOrder:
		return "taking order"
	case ActionFetchingOrder:
		return "fetching order"
	case ActionServing:
		return "serving"
	case ActionCharging:
		return "charging"
	default:
		return "unknown"
	}
}

// Valid reports whether a is one of the declared actions.
func (a RobotAction) Valid() bool {
	return a >= ActionAwaitingInstruction && a <= ActionCharging
}

// ParseRobotAction converts the wire representation back to a RobotAction.
// Underscores and case are tolerated ("awaiting_instruction", "Charging").
func ParseRobotAction(s string) (RobotAction, error) {
	norm := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
	switch norm {
	case "awaiting instruction":
		return ActionAwaitingInstruction, nil
	case "taking order":
		return ActionTakingOrder, nil
	case "fetching order":
		return ActionFetchingOrder, nil
	case "serving":
		return ActionServing, nil
	case "charging":
		return ActionCharging, nil
	default:
		return 0, fmt.Errorf("%w: unknown robot action %q", ErrInvalidArgument, s)
	}
}

func (a RobotAction) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid robot action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *RobotAction) UnmarshalText(b []byte) error {
	v, err := ParseRobotAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Assignment links a robot to a table and its order.
type Assignment struct {
	TableID string `json:"table"`
	OrderID string `json:"order"`
}

// Robot is a waiter robot known to the coordinator.
type Robot struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Action       RobotAction `json:"action"`
	BatteryLevel float64     `json:"batteryLevel"`
	// Pending is only set while Action is ActionCharging.
	Pending   *Assignment `json:"pendingAssignment,omitempty"`
	Telemetry *Telemetry  `json:"telemetry,omitempty"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// SetAction changes the robot action and drops any pending assignment
// unless the robot keeps charging. It reports whether the action changed.
func (r *Robot) SetAction(a RobotAction) bool {
	changed := r.Action != a
	r.Action = a
	if a != ActionCharging {
		r.Pending = nil
	}
	return changed
}

// HasPending reports whether the robot holds a deferred assignment.
func (r Robot) HasPending() bool {
	return r.Pending != nil && r.Pending.OrderID != ""
}

// ClampBattery bounds a battery percentage to [0, MaxBattery].
func ClampBattery(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > MaxBattery {
		return MaxBattery
	}
	return v
}
