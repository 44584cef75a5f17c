package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	operationLatency *prometheus.HistogramVec
	seatOutcomes     *prometheus.CounterVec
	promotions       prometheus.Counter
	conflictRetries  *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Counter, *prometheus.CounterVec, *prometheus.CounterVec) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coordinator_operation_duration_seconds",
			Help:    "Duration of coordinator operations including lock waits and retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	seat := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "table_seatings_total",
			Help: "Seat requests by assignment outcome",
		},
		[]string{"outcome"},
	)
	promo := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "robot_promotions_total",
			Help: "Pending assignments promoted after charging",
		},
	)
	retry := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_conflict_retries_total",
			Help: "Attempts retried after a version conflict or lock contention",
		},
		[]string{"operation"},
	)
	errs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_operation_errors_total",
			Help: "Failed coordinator operations by error kind",
		},
		[]string{"operation", "kind"},
	)
	return lat, seat, promo, retry, errs
}

func init() {
	operationLatency, seatOutcomes, promotions, conflictRetries, operationErrors = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers coordinator metrics on the provided
// registry. If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(operationLatency, seatOutcomes, promotions, conflictRetries, operationErrors)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	operationLatency, seatOutcomes, promotions, conflictRetries, operationErrors = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
