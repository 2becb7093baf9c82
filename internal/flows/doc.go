// Package flows models the position of one authorization flow as a tagged
// state and moves it with pure functions.
//
// Apply records the input of a step. Resolve moves the state to the first
// requirement not yet satisfied. Neither touches storage; the engine loads
// the state with the auth code record, transitions it, and writes it back.
//
// DecideMfa computes which second factors a sign in needs from the system,
// app, org and user settings. StepName maps a state to the UI page that
// renders it.
package flows
