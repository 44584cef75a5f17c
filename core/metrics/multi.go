package metrics

import "errors"

// MultiSink fans records out to several sinks. Every sink is attempted; the
// errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordSeating(ev SeatingEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordSeating(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordRobotState(ev RobotStateEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(RobotStateRecorder); ok {
			errs = append(errs, r.RecordRobotState(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPromotion(ev PromotionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(PromotionRecorder); ok {
			errs = append(errs, r.RecordPromotion(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordOrderStatus(ev OrderStatusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(OrderStatusRecorder); ok {
			errs = append(errs, r.RecordOrderStatus(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordFleet(byAction map[string]int) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(FleetRecorder); ok {
			errs = append(errs, r.RecordFleet(byAction))
		}
	}
	return errors.Join(errs...)
}
