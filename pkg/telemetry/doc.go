// Package telemetry provides logging, metrics, tracing and UI events for the
// updater.
//
// Logging uses zerolog through Logger, which adds run, instruction and
// partition fields and travels in a context.Context. Metrics are Prometheus
// collectors on a private registry; an on-device run usually writes them to
// a textfile at shutdown instead of serving HTTP. Tracing uses OpenTelemetry
// with a span per instruction dispatch and per partition update stage.
//
// EventPublisher carries the messages instructions post for UI observers.
// Publishing is fire-and-forget: events are delivered on a background
// goroutine in publish order and dropped when the buffer is full.
package telemetry
