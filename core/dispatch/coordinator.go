// Package dispatch coordinates robots, tables and orders. Every operation
// takes record locks in a fixed order, then runs its read-decide-write
// sequence inside one store transaction. Stale writes and lock contention
// are retried with exponential backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/tablebot/core/events"
	"github.com/kilianp07/tablebot/core/history"
	"github.com/kilianp07/tablebot/core/logger"
	"github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/monitoring"
	"github.com/kilianp07/tablebot/core/robots"
	"github.com/kilianp07/tablebot/core/store"
)

// EventPublisher receives domain events once their transaction committed.
type EventPublisher interface {
	Publish(events.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Coordinator owns every change to robot actions, table occupancy and order
// status.
type Coordinator struct {
	store    store.Store
	locks    LockManager
	cfg      Config
	policy   Policy
	ledger   *history.Ledger
	registry *robots.Registry
	logger   logger.Logger
	sink     metrics.MetricsSink
	bus      EventPublisher
	now      func() time.Time
}

// NewCoordinator creates a coordinator on top of st. A nil locks uses
// process local locks; nil log, sink and bus disable the matching output.
func NewCoordinator(st store.Store, locks LockManager, cfg Config, log logger.Logger, sink metrics.MetricsSink, bus EventPublisher) (*Coordinator, error) {
	if st == nil {
		return nil, fmt.Errorf("dispatch: nil store provided to NewCoordinator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	if locks == nil {
		locks = NewMemoryLocks()
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if bus == nil {
		bus = nopPublisher{}
	}
	c := &Coordinator{
		store:  st,
		locks:  locks,
		cfg:    cfg,
		policy: policy,
		logger: log,
		sink:   sink,
		bus:    bus,
		now:    time.Now,
	}
	c.ledger = history.NewLedger(c.clock)
	c.registry = robots.NewRegistry(c.ledger, c.clock)
	return c, nil
}

// SetClock replaces the time source. Used by tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// Policy returns the active assignment policy.
func (c *Coordinator) Policy() Policy { return c.policy }

func (c *Coordinator) clock() time.Time { return c.now().UTC() }

// run executes attempt until it succeeds, fails permanently or the retry
// budget is spent.
func (c *Coordinator) run(ctx context.Context, op string, attempt func(ctx context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		operationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if err == nil {
			return
		}
		kind := errorKind(err)
		operationErrors.WithLabelValues(op, kind).Inc()
		if kind == "internal" {
			c.logger.Errorf("%s: %v", op, err)
			err = monitoring.Report(err, map[string]string{"module": "dispatch", "operation": op})
		}
	}()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryBackoff()
	eb.MaxInterval = 50 * eb.InitialInterval
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := attempt(ctx)
		if err == nil || model.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		conflictRetries.WithLabelValues(op).Inc()
		c.logger.Debugf("%s: retrying in %s: %v", op, wait, err)
	})
}

func (c *Coordinator) publish(evs []events.Event) {
	for _, e := range evs {
		c.bus.Publish(e)
	}
}

func errorKind(err error) string {
	var busy *model.BusyError
	switch {
	case errors.As(err, &busy):
		return "busy"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrConfiguration):
		return "configuration"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}

// GetTable returns one table.
func (c *Coordinator) GetTable(ctx context.Context, id string) (model.Table, error) {
	var t model.Table
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		t, err = tx.GetTable(ctx, id)
		return err
	})
	return t, err
}

// ListTables returns all tables ordered by number.
func (c *Coordinator) ListTables(ctx context.Context) ([]model.Table, error) {
	var ts []model.Table
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		ts, err = tx.ListTables(ctx)
		return err
	})
	return ts, err
}

// GetRobot returns one robot.
func (c *Coordinator) GetRobot(ctx context.Context, id string) (model.Robot, error) {
	var r model.Robot
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		r, err = tx.GetRobot(ctx, id)
		return err
	})
	return r, err
}

// ListRobots returns all robots ordered by name.
func (c *Coordinator) ListRobots(ctx context.Context) ([]model.Robot, error) {
	var rs []model.Robot
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		rs, err = tx.ListRobots(ctx)
		return err
	})
	return rs, err
}

// GetOrder returns one order.
func (c *Coordinator) GetOrder(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	return o, err
}

// ListOrders returns orders newest first.
func (c *Coordinator) ListOrders(ctx context.Context, q model.OrderQuery) ([]model.Order, error) {
	var list []model.Order
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		list, err = tx.ListOrders(ctx, q)
		return err
	})
	return list, err
}

// RobotHistory returns the robot's timeline, newest first, optionally
// restricted to one table.
func (c *Coordinator) RobotHistory(ctx context.Context, robotID, tableID string, limit int) ([]model.HistoryEntry, error) {
	if robotID == "" {
		return nil, fmt.Errorf("%w: robot id required", model.ErrInvalidArgument)
	}
	var hs []model.HistoryEntry
	err := c.store.View(ctx, func(tx store.Tx) (err error) {
		hs, err = tx.ListHistory(ctx, model.HistoryQuery{RobotID: robotID, TableID: tableID, Limit: limit})
		return err
	})
	return hs, err
}

// TelemetryHistory returns the robot's logged telemetry reports, newest
// first.
func (c *Coordinator) TelemetryHistory(ctx context.Context, q model.TelemetryQuery) ([]model.TelemetryRecord, error) {
	if q.RobotID == "" {
		return nil, fmt.Errorf("%w: robot id required", model.ErrInvalidArgument)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: time range ends before it starts", model.ErrInvalidArgument)
	}
	var recs []model.TelemetryRecord
	err := c.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetRobot(ctx, q.RobotID); err != nil {
			return err
		}
		var err error
		recs, err = tx.ListTelemetry(ctx, q)
		return err
	})
	return recs, err
}

// TableHistory returns every robot interval spent on a table.
func (c *Coordinator) TableHistory(ctx context.Context, tableID string, limit int) ([]model.HistoryEntry, error) {
	var hs []model.HistoryEntry
	err := c.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTable(ctx, tableID); err != nil {
			return err
		}
		var err error
		hs, err = tx.ListHistory(ctx, model.HistoryQuery{TableID: tableID, Limit: limit})
		return err
	})
	return hs, err
}
