// Package stores provides the short-lived records of an authorization flow,
// all held in the ephemeral KV store with a TTL.
//
// # Design
//
// Auth code records carry the flow state between steps and are consumed
// with an atomic take, so a code is exchanged at most once. MFA code and
// challenge records are versioned binary records whose attempt counters are
// updated with WATCH/MULTI through kv.Store.Update; a record that reaches
// its threshold stays locked until it expires. Secret comparisons use
// constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate user-facing codes, send messages or make
// authorization decisions; those belong to the engine.
//
// # What this package must NOT do
//
//   - Import goIdP.
//   - Log or expose plaintext secrets.
//   - Use non-constant-time comparisons for secret matching.
package stores
