// Package jwt issues and verifies RS256 access and ID tokens.
//
// Signing keys live in the ephemeral KV store so every instance signs with
// the same key; KeyRing creates and rotates them, KeyCache holds them in
// process for a bounded time, and Manager signs, parses and publishes the
// JWKS document.
package jwt
