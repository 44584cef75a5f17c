// Package robots owns the rules attached to robot records: action changes
// always go through the history ledger, and a pending assignment only
// lives while the robot is charging.
package robots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/tablebot/core/history"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// Registry mutates robots inside a caller provided transaction.
type Registry struct {
	ledger *history.Ledger
	now    func() time.Time
}

// NewRegistry returns a Registry writing history through ledger.
func NewRegistry(ledger *history.Ledger, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{ledger: ledger, now: now}
}

// Create stores a new robot and opens its first history interval.
func (r *Registry) Create(ctx context.Context, tx store.Tx, name string, action model.RobotAction, battery float64) (model.Robot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Robot{}, fmt.Errorf("%w: robot name required", model.ErrInvalidArgument)
	}
	if !action.Valid() {
		return model.Robot{}, fmt.Errorf("%w: robot action %d", model.ErrInvalidArgument, int(action))
	}
	if battery < 0 || battery > model.MaxBattery {
		return model.Robot{}, fmt.Errorf("%w: battery level %.1f outside [0,100]", model.ErrInvalidArgument, battery)
	}
	now := r.now().UTC()
	robot := model.Robot{
		ID:           uuid.NewString(),
		Name:         name,
		Action:       action,
		BatteryLevel: battery,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.CreateRobot(ctx, &robot); err != nil {
		return model.Robot{}, err
	}
	if _, err := r.ledger.Begin(ctx, tx, robot.ID, robot.Action, "", ""); err != nil {
		return model.Robot{}, err
	}
	return robot, nil
}

// Delete removes the robot and closes its open interval.
func (r *Registry) Delete(ctx context.Context, tx store.Tx, id string) error {
	if _, err := tx.GetRobot(ctx, id); err != nil {
		return err
	}
	if _, err := r.ledger.End(ctx, tx, id); err != nil {
		return err
	}
	return tx.DeleteRobot(ctx, id)
}

// Assign puts the robot to work on a table and order, recording a new
// history interval.
func (r *Registry) Assign(ctx context.Context, tx store.Tx, robot *model.Robot, action model.RobotAction, tableID, orderID string) error {
	robot.SetAction(action)
	robot.Pending = nil
	return r.save(ctx, tx, robot, true, true, tableID, orderID)
}

// Release returns the robot to AwaitingInstruction. Any pending assignment
// is dropped, whatever table it referenced.
func (r *Registry) Release(ctx context.Context, tx store.Tx, robot *model.Robot) error {
	robot.SetAction(model.ActionAwaitingInstruction)
	robot.Pending = nil
	return r.save(ctx, tx, robot, true, true, "", "")
}

// Reserve stores a deferred assignment on a charging robot. The robot keeps
// charging and its history interval is left untouched.
func (r *Registry) Reserve(ctx context.Context, tx store.Tx, robot *model.Robot, a model.Assignment) error {
	if robot.Action != model.ActionCharging {
		return fmt.Errorf("robot %s is %s, only charging robots can hold a pending assignment: %w",
			robot.Name, robot.Action, model.ErrInvalidTransition)
	}
	robot.Pending = &a
	return r.save(ctx, tx, robot, false, true, "", "")
}

// SetAction applies a manual action override. History only moves when the
// action actually changes.
func (r *Registry) SetAction(ctx context.Context, tx store.Tx, robot *model.Robot, action model.RobotAction) error {
	if !action.Valid() {
		return fmt.Errorf("%w: robot action %d", model.ErrInvalidArgument, int(action))
	}
	changed := robot.SetAction(action)
	return r.save(ctx, tx, robot, changed, true, "", "")
}

// ApplyTelemetry copies a telemetry report onto the robot and returns the
// battery level and action seen before the update.
func (r *Registry) ApplyTelemetry(robot *model.Robot, tel model.Telemetry) (prevBattery float64, prevAction model.RobotAction) {
	prevBattery, prevAction = robot.BatteryLevel, robot.Action
	if tel.ReportedAt.IsZero() {
		tel.ReportedAt = r.now().UTC()
	}
	if tel.Battery != nil {
		b := model.ClampBattery(*tel.Battery)
		tel.Battery = &b
		robot.BatteryLevel = b
	}
	robot.Telemetry = &tel
	return prevBattery, prevAction
}

// Promote turns a pending assignment into active service when the battery
// has just crossed threshold. It returns the promoted assignment, or nil
// when the guard did not fire.
func (r *Registry) Promote(ctx context.Context, tx store.Tx, robot *model.Robot, prevBattery, threshold float64) (*model.Assignment, error) {
	if !(prevBattery < threshold && robot.BatteryLevel >= threshold) {
		return nil, nil
	}
	if robot.Action != model.ActionCharging || !robot.HasPending() {
		return nil, nil
	}
	a := *robot.Pending
	if err := r.Assign(ctx, tx, robot, model.ActionServing, a.TableID, a.OrderID); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveTelemetry persists a telemetry-only change. UpdatedAt is left alone
// so the idle ordering used by the assignment policy is not reshuffled by
// periodic reports.
func (r *Registry) SaveTelemetry(ctx context.Context, tx store.Tx, robot *model.Robot) error {
	return r.save(ctx, tx, robot, false, false, "", "")
}

func (r *Registry) save(ctx context.Context, tx store.Tx, robot *model.Robot, transition, touch bool, tableID, orderID string) error {
	if transition {
		if _, err := r.ledger.Transition(ctx, tx, robot.ID, robot.Action, tableID, orderID); err != nil {
			return err
		}
	}
	if touch {
		robot.UpdatedAt = r.now().UTC()
	}
	return tx.UpdateRobot(ctx, robot)
}
