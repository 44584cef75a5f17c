package dispatch

import (
	"github.com/kilianp07/tablebot/core/model"
)

// Mode is the outcome of the assignment policy.
type Mode int

const (
	// ModeNone means no robot exists at all.
	ModeNone Mode = iota
	// ModeImmediate assigns the selected robot right away.
	ModeImmediate
	// ModePending reserves a charging robot until its battery is usable.
	ModePending
	// ModeBusy means every robot is working.
	ModeBusy
)

func (m Mode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModePending:
		return "pending"
	case ModeBusy:
		return "busy"
	default:
		return "none"
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Policy holds the tunables of SelectRobot.
type Policy struct {
	// UsableBattery is the charge from which a charging robot may serve.
	UsableBattery float64
	// AssignAction is the action given to a robot on immediate assignment.
	AssignAction model.RobotAction
}

// DefaultPolicy returns the stock restaurant policy.
func DefaultPolicy() Policy {
	return Policy{UsableBattery: 60, AssignAction: model.ActionTakingOrder}
}

// Selection is the robot chosen by SelectRobot. Robot is nil for ModeNone.
type Selection struct {
	Robot *model.Robot
	Mode  Mode
}

// SelectRobot picks a robot for a newly seated table. Idle robots win, the
// one idle the longest first. Otherwise the best charged charging robot is
// taken, immediately when usable or as a reservation. Charging robots that
// already hold a reservation are skipped. The input is never modified.
func SelectRobot(robots []model.Robot, p Policy) Selection {
	var idle, charging, busy *model.Robot
	for i := range robots {
		r := &robots[i]
		switch {
		case r.Action == model.ActionAwaitingInstruction:
			if idle == nil || idledBefore(r, idle) {
				idle = r
			}
		case r.Action == model.ActionCharging && !r.HasPending():
			if charging == nil || betterCharged(r, charging) {
				charging = r
			}
		default:
			if busy == nil || idledBefore(r, busy) {
				busy = r
			}
		}
	}
	switch {
	case idle != nil:
		return selected(idle, ModeImmediate)
	case charging != nil:
		if charging.BatteryLevel >= p.UsableBattery {
			return selected(charging, ModeImmediate)
		}
		return selected(charging, ModePending)
	case busy != nil:
		return selected(busy, ModeBusy)
	default:
		return Selection{Mode: ModeNone}
	}
}

func selected(r *model.Robot, m Mode) Selection {
	c := r.Clone()
	return Selection{Robot: &c, Mode: m}
}

func idledBefore(a, b *model.Robot) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func betterCharged(a, b *model.Robot) bool {
	if a.BatteryLevel != b.BatteryLevel {
		return a.BatteryLevel > b.BatteryLevel
	}
	return idledBefore(a, b)
}
