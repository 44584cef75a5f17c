package metrics

import "time"

// SeatingEvent records how a seat request was resolved.
type SeatingEvent struct {
	TableID     string
	TableNumber int
	HeadCount   int
	Outcome     string
	RobotID     string
	Latency     time.Duration
	Time        time.Time
}

// MetricsSink records seatings. Optional recorder interfaces below are
// detected with type assertions.
type MetricsSink interface {
	RecordSeating(ev SeatingEvent) error
}

// RobotStateEvent is a snapshot of a robot after a change.
type RobotStateEvent struct {
	RobotID string
	Name    string
	Action  string
	Battery float64
	Reason  string
	Time    time.Time
}

// RobotStateRecorder records robot snapshots.
type RobotStateRecorder interface {
	RecordRobotState(ev RobotStateEvent) error
}

// PromotionEvent records a pending assignment turned into service.
type PromotionEvent struct {
	RobotID string
	TableID string
	OrderID string
	Battery float64
	Time    time.Time
}

// PromotionRecorder records promotions.
type PromotionRecorder interface {
	RecordPromotion(ev PromotionEvent) error
}

// OrderStatusEvent records an order status change.
type OrderStatusEvent struct {
	OrderID  string
	TableID  string
	WaiterID string
	Status   string
	Previous string
	Items    int
	Total    float64
	Time     time.Time
}

// OrderStatusRecorder records order status changes.
type OrderStatusRecorder interface {
	RecordOrderStatus(ev OrderStatusEvent) error
}

// FleetRecorder records how many robots perform each action.
type FleetRecorder interface {
	RecordFleet(byAction map[string]int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordSeating(SeatingEvent) error         { return nil }
func (NopSink) RecordRobotState(RobotStateEvent) error   { return nil }
func (NopSink) RecordPromotion(PromotionEvent) error     { return nil }
func (NopSink) RecordOrderStatus(OrderStatusEvent) error { return nil }
func (NopSink) RecordFleet(map[string]int) error         { return nil }
