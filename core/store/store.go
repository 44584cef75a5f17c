// Package store defines the persistence contract of the coordinator.
//
// Every coordinator operation runs inside Store.Update, which executes the
// callback atomically: either all writes made through the Tx become visible
// or none do. Records carry a Version; Update* methods compare it with the
// stored version and fail with model.ErrVersionConflict when the caller
// worked on a stale copy. On success the version of the passed record is
// incremented in place.
package store

import (
	"context"
	"time"

	"github.com/kilianp07/tablebot/core/model"
)

// Tx exposes record access within a transaction.
type Tx interface {
	GetTable(ctx context.Context, id string) (model.Table, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	CreateTable(ctx context.Context, t *model.Table) error
	UpdateTable(ctx context.Context, t *model.Table) error

	GetRobot(ctx context.Context, id string) (model.Robot, error)
	ListRobots(ctx context.Context) ([]model.Robot, error)
	CreateRobot(ctx context.Context, r *model.Robot) error
	UpdateRobot(ctx context.Context, r *model.Robot) error
	DeleteRobot(ctx context.Context, id string) error

	GetOrder(ctx context.Context, id string) (model.Order, error)
	// ActiveOrder returns the latest non-Archived order of the table.
	ActiveOrder(ctx context.Context, tableID string) (model.Order, error)
	ListOrders(ctx context.Context, q model.OrderQuery) ([]model.Order, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	UpdateOrder(ctx context.Context, o *model.Order) error

	// OpenHistory returns the robot's entry with no end time.
	OpenHistory(ctx context.Context, robotID string) (model.HistoryEntry, error)
	InsertHistory(ctx context.Context, h model.HistoryEntry) error
	CloseHistory(ctx context.Context, id string, endedAt time.Time) error
	// ListHistory returns entries newest first.
	ListHistory(ctx context.Context, q model.HistoryQuery) ([]model.HistoryEntry, error)

	// AppendTelemetry adds rec to the robot's telemetry log and drops the
	// oldest records beyond keep. keep <= 0 keeps everything.
	AppendTelemetry(ctx context.Context, rec model.TelemetryRecord, keep int) error
	// ListTelemetry returns matching records newest first.
	ListTelemetry(ctx context.Context, q model.TelemetryQuery) ([]model.TelemetryRecord, error)

	GetMenuItem(ctx context.Context, id string) (model.MenuItem, error)
	PutMenuItem(ctx context.Context, m model.MenuItem) error
}

// Store runs transactions against a backend.
type Store interface {
	// Update runs fn atomically. A non-nil error from fn discards every
	// write made through the Tx.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
