// Package metrics provides lock-free counters and a latency histogram for
// identity provider observability.
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The token latency histogram uses 8 fixed buckets (<=5ms to
// +Inf). Both are allocation-free on the write path.
//
// This package owns metric storage and snapshots. Export (Prometheus, OTel)
// lives in metrics/export and reads Snapshot values.
package metrics
