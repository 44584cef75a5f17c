// Package storetest holds the behaviour every store.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) store.Store

var base = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

// Run executes the shared suite against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("TableVersioning", func(t *testing.T) { testTableVersioning(t, newStore(t)) })
	t.Run("UniqueTableNumber", func(t *testing.T) { testUniqueTableNumber(t, newStore(t)) })
	t.Run("RobotNameCaseInsensitive", func(t *testing.T) { testRobotName(t, newStore(t)) })
	t.Run("RobotRoundTrip", func(t *testing.T) { testRobotRoundTrip(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ActiveOrder", func(t *testing.T) { testActiveOrder(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("TelemetryLog", func(t *testing.T) { testTelemetryLog(t, newStore(t)) })
	t.Run("MenuItems", func(t *testing.T) { testMenu(t, newStore(t)) })
	t.Run("ReadOnlyView", func(t *testing.T) { testReadOnly(t, newStore(t)) })
}

func update(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) error {
	t.Helper()
	ctx := context.Background()
	return s.Update(ctx, func(tx store.Tx) error { return fn(ctx, tx) })
}

func view(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.View(ctx, func(tx store.Tx) error { return fn(ctx, tx) }))
}

func testTableVersioning(t *testing.T, s store.Store) {
	tb := model.Table{ID: "t1", Number: 1, UpdatedAt: base}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateTable(ctx, &tb) }))
	assert.Equal(t, int64(1), tb.Version)

	stale := tb
	tb.Seat(4)
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.UpdateTable(ctx, &tb) }))
	assert.Equal(t, int64(2), tb.Version)

	stale.Occupied = true
	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.UpdateTable(ctx, &stale) })
	assert.ErrorIs(t, err, model.ErrVersionConflict)
	assert.True(t, model.IsRetryable(err))

	view(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetTable(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, got.Occupied)
		require.NotNil(t, got.HeadCount)
		assert.Equal(t, 4, *got.HeadCount)
		_, err = tx.GetTable(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
		return nil
	})
}

func testUniqueTableNumber(t *testing.T, s store.Store) {
	a := model.Table{ID: "a", Number: 2, UpdatedAt: base}
	b := model.Table{ID: "b", Number: 2, UpdatedAt: base}
	c := model.Table{ID: "c", Number: 1, UpdatedAt: base}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateTable(ctx, &a) }))
	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateTable(ctx, &b) })
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.False(t, model.IsRetryable(err))
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateTable(ctx, &c) }))

	view(t, s, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListTables(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, 1, all[0].Number)
		assert.Equal(t, 2, all[1].Number)
		return nil
	})
}

func testRobotName(t *testing.T, s store.Store) {
	r1 := model.Robot{ID: "r1", Name: "Ava", CreatedAt: base, UpdatedAt: base}
	r2 := model.Robot{ID: "r2", Name: "AVA", CreatedAt: base, UpdatedAt: base}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateRobot(ctx, &r1) }))
	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateRobot(ctx, &r2) })
	assert.ErrorIs(t, err, model.ErrConflict)
}

func testRobotRoundTrip(t *testing.T, s store.Store) {
	battery := 42.0
	r := model.Robot{
		ID: "r1", Name: "Bolt", Action: model.ActionCharging, BatteryLevel: 42,
		Pending:   &model.Assignment{TableID: "t1", OrderID: "o1"},
		Telemetry: &model.Telemetry{Battery: &battery, Pose: &model.Pose{X: 1, Y: 2}, ReportedAt: base},
		CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.CreateRobot(ctx, &r) }))
	view(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetRobot(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, model.ActionCharging, got.Action)
		require.NotNil(t, got.Pending)
		assert.Equal(t, "o1", got.Pending.OrderID)
		require.NotNil(t, got.Telemetry)
		require.NotNil(t, got.Telemetry.Pose)
		assert.InDelta(t, 2, got.Telemetry.Pose.Y, 1e-9)
		assert.True(t, got.UpdatedAt.Equal(base))
		return nil
	})

	r.SetAction(model.ActionServing)
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.UpdateRobot(ctx, &r) }))
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.DeleteRobot(ctx, "r1") }))
	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.DeleteRobot(ctx, "r1") })
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testRollback(t *testing.T, s store.Store) {
	boom := errors.New("boom")
	err := update(t, s, func(ctx context.Context, tx store.Tx) error {
		tb := model.Table{ID: "t1", Number: 1, UpdatedAt: base}
		if err := tx.CreateTable(ctx, &tb); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	view(t, s, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetTable(ctx, "t1")
		assert.ErrorIs(t, err, model.ErrNotFound)
		return nil
	})
}

func testActiveOrder(t *testing.T, s store.Store) {
	tb := model.Table{ID: "t1", Number: 1, UpdatedAt: base}
	old := model.Order{ID: "o1", TableID: "t1", Status: model.OrderArchived, Items: []model.LineItem{}, PlacedAt: base, UpdatedAt: base}
	cur := model.Order{
		ID: "o2", TableID: "t1", WaiterID: "r1", Status: model.OrderPending,
		Items:    []model.LineItem{{MenuItemID: "soup", Quantity: 2, Instructions: "hot"}},
		PlacedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute), TotalPrice: 9,
	}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateTable(ctx, &tb); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, &old); err != nil {
			return err
		}
		return tx.CreateOrder(ctx, &cur)
	}))

	view(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.ActiveOrder(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "o2", got.ID)
		assert.Equal(t, "r1", got.WaiterID)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "hot", got.Items[0].Instructions)
		assert.InDelta(t, 9, got.TotalPrice, 1e-9)

		_, err = tx.ActiveOrder(ctx, "t2")
		assert.ErrorIs(t, err, model.ErrNotFound)

		archived := model.OrderArchived
		list, err := tx.ListOrders(ctx, model.OrderQuery{TableID: "t1", Status: &archived})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "o1", list[0].ID)

		all, err := tx.ListOrders(ctx, model.OrderQuery{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "o2", all[0].ID)
		return nil
	})

	stale := cur
	cur.Status = model.OrderSubmitted
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.UpdateOrder(ctx, &cur) }))
	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.UpdateOrder(ctx, &stale) })
	assert.ErrorIs(t, err, model.ErrVersionConflict)
}

func testHistory(t *testing.T, s store.Store) {
	first := model.HistoryEntry{ID: "h1", RobotID: "r1", Action: model.ActionAwaitingInstruction, StartedAt: base}
	second := model.HistoryEntry{ID: "h2", RobotID: "r1", Action: model.ActionServing, TableID: "t1", OrderID: "o1", StartedAt: base}
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.InsertHistory(ctx, first) }))

	err := update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.InsertHistory(ctx, second) })
	assert.ErrorIs(t, err, model.ErrConflict)

	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CloseHistory(ctx, "h1", base); err != nil {
			return err
		}
		return tx.InsertHistory(ctx, second)
	}))

	view(t, s, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.OpenHistory(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "h2", open.ID)

		all, err := tx.ListHistory(ctx, model.HistoryQuery{RobotID: "r1"})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "h2", all[0].ID, "same start time orders by insertion, newest first")
		require.NotNil(t, all[1].EndedAt)

		byTable, err := tx.ListHistory(ctx, model.HistoryQuery{TableID: "t1"})
		require.NoError(t, err)
		require.Len(t, byTable, 1)

		limited, err := tx.ListHistory(ctx, model.HistoryQuery{RobotID: "r1", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		_, err = tx.OpenHistory(ctx, "r2")
		assert.ErrorIs(t, err, model.ErrNotFound)
		return nil
	})
}

func testTelemetryLog(t *testing.T, s store.Store) {
	report := func(robotID string, minute int, battery float64) model.TelemetryRecord {
		b := battery
		return model.TelemetryRecord{RobotID: robotID, Telemetry: model.Telemetry{
			Battery:    &b,
			Pose:       &model.Pose{X: float64(minute)},
			ReportedAt: base.Add(time.Duration(minute) * time.Minute),
		}}
	}
	for i := 0; i < 5; i++ {
		rec := report("r1", i, float64(50+i))
		require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.AppendTelemetry(ctx, rec, 3) }))
	}
	other := report("r2", 1, 20)
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error { return tx.AppendTelemetry(ctx, other, 3) }))

	view(t, s, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.ListTelemetry(ctx, model.TelemetryQuery{RobotID: "r1"})
		require.NoError(t, err)
		require.Len(t, all, 3, "log is bounded to the newest records")
		assert.Equal(t, base.Add(4*time.Minute), all[0].ReportedAt.UTC())
		assert.Equal(t, base.Add(2*time.Minute), all[2].ReportedAt.UTC())
		require.NotNil(t, all[0].Battery)
		assert.InDelta(t, 54, *all[0].Battery, 1e-9)
		require.NotNil(t, all[0].Pose)
		assert.InDelta(t, 4, all[0].Pose.X, 1e-9)

		ranged, err := tx.ListTelemetry(ctx, model.TelemetryQuery{
			RobotID: "r1", From: base.Add(3 * time.Minute), To: base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, ranged, 1)
		assert.InDelta(t, 53, *ranged[0].Battery, 1e-9)

		limited, err := tx.ListTelemetry(ctx, model.TelemetryQuery{RobotID: "r1", Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		r2, err := tx.ListTelemetry(ctx, model.TelemetryQuery{RobotID: "r2"})
		require.NoError(t, err)
		require.Len(t, r2, 1, "trimming one robot leaves the others alone")

		none, err := tx.ListTelemetry(ctx, model.TelemetryQuery{RobotID: "r3"})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	})

	err := update(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.AppendTelemetry(ctx, report("r1", 9, 99), 3); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	view(t, s, func(ctx context.Context, tx store.Tx) error {
		latest, err := tx.ListTelemetry(ctx, model.TelemetryQuery{RobotID: "r1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, latest, 1)
		assert.Equal(t, base.Add(4*time.Minute), latest[0].ReportedAt.UTC(), "aborted append is discarded")
		return nil
	})
}

func testMenu(t *testing.T, s store.Store) {
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.PutMenuItem(ctx, model.MenuItem{ID: "soup", Name: "Soup", Price: 4.5, Available: true})
	}))
	require.NoError(t, update(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.PutMenuItem(ctx, model.MenuItem{ID: "soup", Name: "Soup", Price: 5, Available: false})
	}))
	view(t, s, func(ctx context.Context, tx store.Tx) error {
		m, err := tx.GetMenuItem(ctx, "soup")
		require.NoError(t, err)
		assert.InDelta(t, 5, m.Price, 1e-9)
		assert.False(t, m.Available)
		_, err = tx.GetMenuItem(ctx, "bread")
		assert.ErrorIs(t, err, model.ErrNotFound)
		return nil
	})
}

func testReadOnly(t *testing.T, s store.Store) {
	err := s.View(context.Background(), func(tx store.Tx) error {
		tb := model.Table{ID: "t1", Number: 1, UpdatedAt: base}
		return tx.CreateTable(context.Background(), &tb)
	})
	assert.Error(t, err)
}
