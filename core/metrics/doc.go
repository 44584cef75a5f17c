// Package metrics defines the sinks recording dispatch activity: seatings,
// robot state changes, promotions and order status changes. Sinks such as
// PromSink and InfluxSink live in infra/metrics and register themselves in
// the factory; NewMetricsSink combines several of them into a MultiSink.
package metrics
