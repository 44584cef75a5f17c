package model

import "time"

// Pose is a planar robot position in the restaurant frame.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Velocity is the commanded robot velocity.
type Velocity struct {
	LinearX  float64 `json:"linearX"`
	AngularZ float64 `json:"angularZ"`
}

// Telemetry is the latest state reported by a robot. Battery is optional
// because robots report it less often than their pose.
type Telemetry struct {
	Battery           *float64  `json:"battery,omitempty"`
	Pose              *Pose     `json:"pose,omitempty"`
	Velocity          *Velocity `json:"velocity,omitempty"`
	GoalStatus        string    `json:"goalStatus,omitempty"`
	DistanceTravelled float64   `json:"distanceTravelled"`
	ReportedAt        time.Time `json:"reportedAt"`
}

// TelemetryRecord is one report kept in a robot's telemetry log.
type TelemetryRecord struct {
	RobotID string `json:"robot"`
	Telemetry
}

// TelemetryQuery selects a robot's telemetry log. Zero From, To and Limit
// do not restrict the result.
type TelemetryQuery struct {
	RobotID string
	From    time.Time
	To      time.Time
	Limit   int
}

// Match reports whether rec falls inside the query's robot and time range.
// Both bounds are inclusive.
func (q TelemetryQuery) Match(rec TelemetryRecord) bool {
	if q.RobotID != "" && rec.RobotID != q.RobotID {
		return false
	}
	if !q.From.IsZero() && rec.ReportedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && rec.ReportedAt.After(q.To) {
		return false
	}
	return true
}
