// Package session keeps the browser side of sign in: the SSO session cookie
// per client and the remember-device cookie.
//
// Both cookies are signed and encrypted (gorilla/sessions and
// gorilla/securecookie) and carry their own expiry, checked against an
// injected clock on every read. Nothing is stored server side.
//
// # What this package must NOT do
//
//   - Import goIdP.
//   - Decide whether a session may be used; the engine checks the user.
package session
