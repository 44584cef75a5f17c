package model

import "time"

// HistoryEntry is one interval of a robot's activity timeline. The entry
// with a nil EndedAt is the robot's current activity.
type HistoryEntry struct {
	ID        string      `json:"id"`
	RobotID   string      `json:"robot"`
	Action    RobotAction `json:"action"`
	TableID   string      `json:"table,omitempty"`
	OrderID   string      `json:"order,omitempty"`
	StartedAt time.Time   `json:"startedAt"`
	EndedAt   *time.Time  `json:"endedAt"`
}

// Open reports whether the interval is still running.
func (h HistoryEntry) Open() bool { return h.EndedAt == nil }

// HistoryQuery filters history listings. Zero values match everything.
type HistoryQuery struct {
	RobotID string
	TableID string
	Limit   int
}

// OrderQuery filters order listings.
type OrderQuery struct {
	TableID string
	Status  *OrderStatus
}
