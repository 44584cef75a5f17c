// Package events defines the domain events emitted on the event bus after a
// coordinator transaction commits.
//
// Available event types:
//   - RobotEvent: robot assignment, deferral, promotion, release and overrides
//   - OrderEvent: order status changes
//   - TableEvent: a table was seated or left
//   - TelemetryEvent: a telemetry report was applied
package events
