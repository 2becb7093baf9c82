// Package kv is the ephemeral state store shared by every request handler.
//
// It wraps a Redis client with the small set of primitives the authorization
// engine relies on: plain get/set/delete with TTL, an atomic take (GETDEL) for
// one-time records, a fixed-window counter that always carries a TTL, and an
// optimistic read-modify-write that keeps the remaining TTL of the record.
//
// # What this package must NOT do
//
//   - Know about auth codes, MFA or tokens (those live in internal/stores).
//   - Expire records itself; Redis owns expiry.
package kv
