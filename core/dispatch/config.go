package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/tablebot/core/model"
)

// Config defines dispatch-related settings.
type Config struct {
	// UsableBattery is the battery percentage from which a charging robot
	// may be assigned. Defaults to 60.
	UsableBattery float64 `json:"usable_battery"`
	// AssignAction is the action set on immediate assignment.
	AssignAction   string `json:"assign_action"`
	MaxRetries     int    `json:"max_retries"`
	RetryBackoffMS int    `json:"retry_backoff_ms"`
	LockTTLMS      int    `json:"lock_ttl_ms"`
	// TelemetryHistory is how many reports are kept per robot. Defaults to
	// 500; a negative value disables the log.
	TelemetryHistory int `json:"telemetry_history"`
}

// DefaultTelemetryHistory is the per-robot telemetry log size.
const DefaultTelemetryHistory = 500

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.UsableBattery == 0 {
		c.UsableBattery = DefaultPolicy().UsableBattery
	}
	if c.AssignAction == "" {
		c.AssignAction = DefaultPolicy().AssignAction.String()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoffMS == 0 {
		c.RetryBackoffMS = 20
	}
	if c.LockTTLMS == 0 {
		c.LockTTLMS = 5000
	}
	if c.TelemetryHistory == 0 {
		c.TelemetryHistory = DefaultTelemetryHistory
	}
}

// Validate checks the settings once defaults are applied.
func (c Config) Validate() error {
	if c.UsableBattery <= 0 || c.UsableBattery > model.MaxBattery {
		return fmt.Errorf("usable_battery must be in (0,100], got %v", c.UsableBattery)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if c.RetryBackoffMS < 0 || c.LockTTLMS < 0 {
		return fmt.Errorf("retry_backoff_ms and lock_ttl_ms must not be negative")
	}
	return nil
}

// Policy builds the assignment policy.
func (c Config) Policy() (Policy, error) {
	a, err := model.ParseRobotAction(c.AssignAction)
	if err != nil {
		return Policy{}, fmt.Errorf("assign_action: %w", err)
	}
	switch a {
	case model.ActionTakingOrder, model.ActionFetchingOrder, model.ActionServing:
	default:
		return Policy{}, fmt.Errorf("assign_action %q cannot be given on assignment", c.AssignAction)
	}
	return Policy{UsableBattery: c.UsableBattery, AssignAction: a}, nil
}

// RetryBackoff is the first wait between conflicting attempts.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// LockTTL bounds how long a distributed lock survives its holder.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}
