package robots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/history"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

func newRegistry() (*Registry, *store.MemoryStore) {
	t := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	now := func() time.Time {
		t = t.Add(time.Second)
		return t
	}
	return NewRegistry(history.NewLedger(now), now), store.NewMemoryStore()
}

func create(t *testing.T, r *Registry, s store.Store, name string, action model.RobotAction, battery float64) model.Robot {
	t.Helper()
	var robot model.Robot
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) (err error) {
		robot, err = r.Create(context.Background(), tx, name, action, battery)
		return err
	}))
	return robot
}

func entries(t *testing.T, s store.Store, robotID string) []model.HistoryEntry {
	t.Helper()
	var hs []model.HistoryEntry
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) (err error) {
		hs, err = tx.ListHistory(context.Background(), model.HistoryQuery{RobotID: robotID})
		return err
	}))
	return hs
}

func TestCreate_Validation(t *testing.T) {
	r, s := newRegistry()
	tests := []struct {
		name    string
		robot   string
		action  model.RobotAction
		battery float64
	}{
		{"blank name", "  ", model.ActionAwaitingInstruction, 50},
		{"bad action", "R1", model.RobotAction(42), 50},
		{"battery above range", "R1", model.ActionAwaitingInstruction, 101},
		{"battery below range", "R1", model.ActionAwaitingInstruction, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Update(context.Background(), func(tx store.Tx) error {
				_, err := r.Create(context.Background(), tx, tt.robot, tt.action, tt.battery)
				return err
			})
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
		})
	}
}

func TestCreate_OpensHistory(t *testing.T) {
	r, s := newRegistry()
	robot := create(t, r, s, " Ava ", model.ActionCharging, 30)
	assert.Equal(t, "Ava", robot.Name)
	hs := entries(t, s, robot.ID)
	require.Len(t, hs, 1)
	assert.True(t, hs[0].Open())
	assert.Equal(t, model.ActionCharging, hs[0].Action)
}

func TestReserveAndPromote(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionCharging, 50)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return r.Reserve(ctx, tx, &robot, model.Assignment{TableID: "t1", OrderID: "o1"})
	}))
	require.Len(t, entries(t, s, robot.ID), 1, "reserving keeps the charging interval")

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		prev, _ := r.ApplyTelemetry(&robot, model.Telemetry{Battery: ptr(59.0)})
		a, err := r.Promote(ctx, tx, &robot, prev, 60)
		assert.Nil(t, a)
		if err != nil {
			return err
		}
		return r.SaveTelemetry(ctx, tx, &robot)
	}))
	assert.Equal(t, model.ActionCharging, robot.Action)

	var promoted *model.Assignment
	require.NoError(t, s.Update(ctx, func(tx store.Tx) (err error) {
		prev, _ := r.ApplyTelemetry(&robot, model.Telemetry{Battery: ptr(60.0)})
		promoted, err = r.Promote(ctx, tx, &robot, prev, 60)
		return err
	}))
	require.NotNil(t, promoted)
	assert.Equal(t, "t1", promoted.TableID)
	assert.Equal(t, model.ActionServing, robot.Action)
	assert.Nil(t, robot.Pending)

	hs := entries(t, s, robot.ID)
	require.Len(t, hs, 2)
	assert.Equal(t, model.ActionServing, hs[0].Action)
	assert.Equal(t, "o1", hs[0].OrderID)
	assert.True(t, hs[0].Open())
	assert.False(t, hs[1].Open())
}

func TestPromote_NeedsCrossing(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionCharging, 70)
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return r.Reserve(ctx, tx, &robot, model.Assignment{TableID: "t1", OrderID: "o1"})
	}))
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		prev, _ := r.ApplyTelemetry(&robot, model.Telemetry{Battery: ptr(80.0)})
		a, err := r.Promote(ctx, tx, &robot, prev, 60)
		assert.Nil(t, a, "already above the threshold")
		return err
	}))
}

func TestReserve_RequiresCharging(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionServing, 90)
	err := s.Update(ctx, func(tx store.Tx) error {
		return r.Reserve(ctx, tx, &robot, model.Assignment{TableID: "t1", OrderID: "o1"})
	})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestSetAction_OnlyMovesHistoryOnChange(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionCharging, 20)
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return r.Reserve(ctx, tx, &robot, model.Assignment{TableID: "t1", OrderID: "o1"})
	}))

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return r.SetAction(ctx, tx, &robot, model.ActionCharging)
	}))
	assert.Len(t, entries(t, s, robot.ID), 1)
	assert.True(t, robot.HasPending())

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return r.SetAction(ctx, tx, &robot, model.ActionFetchingOrder)
	}))
	assert.Len(t, entries(t, s, robot.ID), 2)
	assert.False(t, robot.HasPending(), "leaving charging drops the reservation")
}

func TestApplyTelemetry_ClampsAndKeepsUpdatedAt(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionAwaitingInstruction, 50)
	before := robot.UpdatedAt

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		prev, prevAction := r.ApplyTelemetry(&robot, model.Telemetry{Battery: ptr(140.0)})
		assert.InDelta(t, 50, prev, 1e-9)
		assert.Equal(t, model.ActionAwaitingInstruction, prevAction)
		return r.SaveTelemetry(ctx, tx, &robot)
	}))
	assert.InDelta(t, 100, robot.BatteryLevel, 1e-9)
	require.NotNil(t, robot.Telemetry)
	assert.False(t, robot.Telemetry.ReportedAt.IsZero())
	assert.True(t, robot.UpdatedAt.Equal(before))

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		r.ApplyTelemetry(&robot, model.Telemetry{GoalStatus: "moving"})
		return r.SaveTelemetry(ctx, tx, &robot)
	}))
	assert.InDelta(t, 100, robot.BatteryLevel, 1e-9, "missing battery keeps the last level")
}

func TestDelete_ClosesHistory(t *testing.T) {
	r, s := newRegistry()
	ctx := context.Background()
	robot := create(t, r, s, "Ava", model.ActionAwaitingInstruction, 50)
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error { return r.Delete(ctx, tx, robot.ID) }))

	hs := entries(t, s, robot.ID)
	require.Len(t, hs, 1)
	assert.False(t, hs[0].Open())

	err := s.Update(ctx, func(tx store.Tx) error { return r.Delete(ctx, tx, robot.ID) })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
