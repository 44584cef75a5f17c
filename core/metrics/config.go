package metrics

import "github.com/kilianp07/tablebot/core/factory"

// Config defines the metrics sinks and the Prometheus endpoint.
type Config struct {
	Sinks          []factory.ModuleConfig `json:"sinks"`
	PrometheusPort string                 `json:"prometheus_port"`
	// FleetInterval is how often, in seconds, the robot count per action is
	// sampled. Zero disables sampling.
	FleetInterval int `json:"fleet_interval_seconds"`
}
