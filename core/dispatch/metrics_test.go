package dispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/core/store"
)

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	operationLatency.WithLabelValues("seat_table").Observe(0.1)
	seatOutcomes.WithLabelValues("immediate").Inc()
	promotions.Inc()
	conflictRetries.WithLabelValues("seat_table").Inc()
	operationErrors.WithLabelValues("seat_table", "busy").Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"coordinator_operation_duration_seconds",
		"table_seatings_total",
		"robot_promotions_total",
		"coordinator_conflict_retries_total",
		"coordinator_operation_errors_total",
	} {
		assert.True(t, names[n], "metric %s not registered", n)
	}
}

type seatingSink struct {
	metrics.NopSink
	seatings []metrics.SeatingEvent
}

func (s *seatingSink) RecordSeating(ev metrics.SeatingEvent) error {
	s.seatings = append(s.seatings, ev)
	return nil
}

func TestCoordinatorMetrics(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	sink := &seatingSink{}
	c, err := NewCoordinator(store.NewMemoryStore(), nil, Config{RetryBackoffMS: 1}, nil, sink, nil)
	require.NoError(t, err)
	ctx := context.Background()

	tb, err := c.CreateTable(ctx, 7)
	require.NoError(t, err)
	_, err = c.SeatTable(ctx, tb.ID, 2)
	require.ErrorIs(t, err, model.ErrConfiguration)

	battery := 10.0
	r, err := c.CreateRobot(ctx, NewRobot{Name: "R1", Action: ptr(model.ActionCharging), Battery: &battery})
	require.NoError(t, err)
	_, err = c.RetryAssignment(ctx, tb.ID)
	require.NoError(t, err)
	_, err = c.UpdateRobotTelemetry(ctx, r.ID, model.Telemetry{Battery: ptr(61.0)})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(seatOutcomes.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(promotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(operationErrors.WithLabelValues("seat_table", "configuration")))
	require.Len(t, sink.seatings, 1)
	assert.Equal(t, 7, sink.seatings[0].TableNumber)
	assert.Equal(t, "none", sink.seatings[0].Outcome)
}

// conflictStore fails the first n Update calls with a version conflict.
type conflictStore struct {
	store.Store
	n int
}

func (s *conflictStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if s.n > 0 {
		s.n--
		return model.ErrVersionConflict
	}
	return s.Store.Update(ctx, fn)
}

func TestCoordinatorRetriesConflicts(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	st := &conflictStore{Store: store.NewMemoryStore()}
	c, err := NewCoordinator(st, nil, Config{MaxRetries: 3, RetryBackoffMS: 1}, nil, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	st.n = 2
	tb, err := c.CreateTable(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(conflictRetries.WithLabelValues("create_table")))

	st.n = 10
	_, err = c.LeaveTable(ctx, tb.ID)
	assert.ErrorIs(t, err, model.ErrVersionConflict, "exhausted retries surface the conflict")
}
