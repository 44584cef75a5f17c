package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/tablebot/core/metrics"
	"github.com/kilianp07/tablebot/core/model"
)

// PromSink exposes seatings, robot state and order flow as Prometheus
// metrics.
type PromSink struct {
	seatLatency *prometheus.HistogramVec
	guests      prometheus.Counter
	battery     *prometheus.GaugeVec
	action      *prometheus.GaugeVec
	promotion   prometheus.Histogram
	orders      *prometheus.CounterVec
	fleet       *prometheus.GaugeVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		seatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seating_latency_seconds",
			Help:    "Time to seat a table and resolve its robot",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		guests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seated_guests_total",
			Help: "Number of guests seated",
		}),
		battery: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robot_battery_percent",
			Help: "Last known battery level per robot",
		}, []string{"robot"}),
		action: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "robot_action",
			Help: "1 for the action each robot currently performs",
		}, []string{"robot", "action"}),
		promotion: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "promotion_battery_percent",
			Help:    "Battery level at which pending robots were promoted",
			Buckets: prometheus.LinearBuckets(50, 5, 11),
		}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_changes_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		fleet: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_robots",
			Help: "Number of robots per action",
		}, []string{"action"}),
	}
	var err error
	if s.seatLatency, err = Register(reg, s.seatLatency); err != nil {
		return nil, err
	}
	if s.guests, err = Register(reg, s.guests); err != nil {
		return nil, err
	}
	if s.battery, err = Register(reg, s.battery); err != nil {
		return nil, err
	}
	if s.action, err = Register(reg, s.action); err != nil {
		return nil, err
	}
	if s.promotion, err = Register(reg, s.promotion); err != nil {
		return nil, err
	}
	if s.orders, err = Register(reg, s.orders); err != nil {
		return nil, err
	}
	if s.fleet, err = Register(reg, s.fleet); err != nil {
		return nil, err
	}
	return s, nil
}

// Register registers c on reg, returning the collector already registered
// under the same descriptor if there is one.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSeating observes the seat latency and counts guests.
func (s *PromSink) RecordSeating(ev coremetrics.SeatingEvent) error {
	s.seatLatency.WithLabelValues(ev.Outcome).Observe(ev.Latency.Seconds())
	if ev.HeadCount > 0 {
		s.guests.Add(float64(ev.HeadCount))
	}
	return nil
}

// RecordRobotState updates the battery gauge and flips the action gauges
// of the robot.
func (s *PromSink) RecordRobotState(ev coremetrics.RobotStateEvent) error {
	name := ev.Name
	if name == "" {
		name = ev.RobotID
	}
	if ev.Reason == "deleted" {
		s.battery.DeleteLabelValues(name)
		for a := model.ActionAwaitingInstruction; a <= model.ActionCharging; a++ {
			s.action.DeleteLabelValues(name, a.String())
		}
		return nil
	}
	s.battery.WithLabelValues(name).Set(ev.Battery)
	for a := model.ActionAwaitingInstruction; a <= model.ActionCharging; a++ {
		v := 0.0
		if a.String() == ev.Action {
			v = 1
		}
		s.action.WithLabelValues(name, a.String()).Set(v)
	}
	return nil
}

// RecordPromotion observes the battery level that triggered a promotion.
func (s *PromSink) RecordPromotion(ev coremetrics.PromotionEvent) error {
	s.promotion.Observe(ev.Battery)
	return nil
}

// RecordOrderStatus counts order transitions.
func (s *PromSink) RecordOrderStatus(ev coremetrics.OrderStatusEvent) error {
	s.orders.WithLabelValues(ev.Status).Inc()
	return nil
}

// RecordFleet sets the per-action robot gauges. Actions missing from
// byAction are reset to zero.
func (s *PromSink) RecordFleet(byAction map[string]int) error {
	for a := model.ActionAwaitingInstruction; a <= model.ActionCharging; a++ {
		s.fleet.WithLabelValues(a.String()).Set(float64(byAction[a.String()]))
	}
	return nil
}
