package events

import (
	"time"

	"github.com/kilianp07/tablebot/core/model"
)

// Event is any value published on the domain bus.
type Event interface {
	OccurredAt() time.Time
}

// RobotEventKind tells subscribers why a robot changed.
type RobotEventKind int

const (
	RobotCreated RobotEventKind = iota
	RobotAssigned
	RobotDeferred
	RobotPromoted
	RobotServing
	RobotReleased
	RobotOverridden
	RobotDeleted
)

func (k RobotEventKind) String() string {
	switch k {
	case RobotCreated:
		return "created"
	case RobotAssigned:
		return "assigned"
	case RobotDeferred:
		return "deferred"
	case RobotPromoted:
		return "promoted"
	case RobotServing:
		return "serving"
	case RobotReleased:
		return "released"
	case RobotOverridden:
		return "overridden"
	case RobotDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// RobotEvent carries the robot as committed. TableID and OrderID are set
// when the change concerns a table sitting.
type RobotEvent struct {
	Kind     RobotEventKind
	Robot    model.Robot
	Previous model.RobotAction
	TableID  string
	OrderID  string
	At       time.Time
}

func (e RobotEvent) OccurredAt() time.Time { return e.At }

// OrderEvent is published whenever an order changes status.
type OrderEvent struct {
	Order    model.Order
	Previous model.OrderStatus
	At       time.Time
}

func (e OrderEvent) OccurredAt() time.Time { return e.At }

// SeatOutcome is how the policy resolved a seat request.
type SeatOutcome string

const (
	SeatImmediate SeatOutcome = "immediate"
	SeatPending   SeatOutcome = "pending"
	SeatBusy      SeatOutcome = "busy"
	SeatNoRobots  SeatOutcome = "none"
	SeatLeft      SeatOutcome = "left"
)

// TableEvent is published when a table is seated or left.
type TableEvent struct {
	Table   model.Table
	Outcome SeatOutcome
	RobotID string
	At      time.Time
}

func (e TableEvent) OccurredAt() time.Time { return e.At }

// TelemetryEvent is published after a telemetry report is stored.
type TelemetryEvent struct {
	Robot model.Robot
	At    time.Time
}

func (e TelemetryEvent) OccurredAt() time.Time { return e.At }
