// Package otel publishes engine metrics through OpenTelemetry asynchronous
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and,
// for the latency histogram, a bucket gauge keyed by an "le" attribute plus a
// count gauge. A single callback reads the engine snapshot on each
// collection. Callers own the MeterProvider.
package otel
