// Package infra contains the technical adapters of the coordinator: SQL
// stores, Redis locks, MQTT and AMQP clients, metrics sinks and error
// monitoring. These packages depend only on interfaces defined in core.
package infra
