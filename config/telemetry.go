package config

import "fmt"

// TelemetryConfig holds configuration for the telemetry manager.
type TelemetryConfig struct {
	Enabled bool `json:"enabled"`
	// Mode is "push" (robots publish state), "pull" (the coordinator polls)
	// or "hybrid".
	Mode            string `json:"mode"`
	IntervalSeconds int    `json:"interval_seconds"`
	RequestTopic    string `json:"request_topic"`
	ResponsePrefix  string `json:"response_topic_prefix"`
	StatePrefix     string `json:"state_topic_prefix"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// SetDefaults fills the topics robots use out of the box.
func (c *TelemetryConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "push"
	}
	if c.StatePrefix == "" {
		c.StatePrefix = "robots/state"
	}
	if c.RequestTopic == "" {
		c.RequestTopic = "robots/telemetry/request"
	}
	if c.ResponsePrefix == "" {
		c.ResponsePrefix = "robots/telemetry/response"
	}
}

func (c TelemetryConfig) Interval() int {
	if c.IntervalSeconds <= 0 {
		return 10
	}
	return c.IntervalSeconds
}

func (c TelemetryConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 3
	}
	return c.TimeoutSeconds
}

// Validate checks the collection mode.
func (c TelemetryConfig) Validate() error {
	switch c.Mode {
	case "push", "pull", "hybrid":
		return nil
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
}
