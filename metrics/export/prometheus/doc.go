// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// Counters are named goidp_*_total and the token endpoint latency is the
// goidp_token_latency_seconds histogram. [Exporter.Handler] serves them from a
// private registry; callers that already run a registry can register the
// [Exporter] there instead.
package prometheus
