// Package internal contains helpers private to goIdP: secure random codes,
// tokens and hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: tagged authorization flow state and pure transitions
//   - limiters: KV-backed threshold guards (login lockout, send limits)
//   - metrics: lock-free counters and latency histograms
//   - stores: auth code, MFA code, refresh token and challenge records
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdP API.
//   - Be imported by any package outside the goIdP module.
package internal
