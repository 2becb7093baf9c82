// Package goIdP is an OAuth 2.0 / OpenID Connect authorization engine with
// PKCE, multi-factor sign-in, consent and policy sub-flows.
//
// An [Engine] drives one sign-in as a sequence of steps keyed by a
// short-lived auth code: credentials, MFA enrollment and verification, an
// optional passkey offer, consent, and finally a policy such as
// change_password. Every step returns a [StepResult] naming the next page
// or a ready code the client exchanges at the token endpoint.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goIdP is the public surface. It exposes [Engine], [Builder], [Config], the
// repository interfaces and value types. Flow state, KV records, limiters,
// metrics and audit dispatch live under internal/ and are never exported.
// The engine never sees HTTP: the httpapi package reads cookies and passes
// request facts in through [WithClientIP] and [WithRememberedDevices].
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Trust anything the previous step did not write into the auth-code record.
//   - Import any sub-package that re-imports goIdP (no import cycles).
//
// # Consistency contract
//
// Auth codes, MFA codes and reset codes are consumed at most once: every
// consume is a single atomic Redis operation. Attempt counters always carry
// a TTL.
package goIdP
