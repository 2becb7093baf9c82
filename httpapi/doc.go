// Package httpapi exposes a goIdP.Engine over HTTP.
//
// Routes follow the identity provider surface: /oauth2/v1/* for the OAuth
// endpoints, /identity/v1/* for the sign-in steps and /.well-known/* for
// discovery. The package owns cookie I/O (SSO session and remember-device),
// request decoding and validation, error mapping, CORS and a per-IP rate
// limit; every decision is delegated to the engine.
package httpapi
