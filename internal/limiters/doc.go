// Package limiters provides the threshold guard used for lockouts and send
// limits, built on kv fixed-window counters.
//
// # Guards
//
//   - FailedLoginAttempts-<email>: credential verification lockout.
//   - PasswordResetAttempts-<email>: reset code requests.
//   - SmsMfaMessageAttempts-<code>: SMS sends per auth code.
//   - EmailMfaEmailAttempts-<code>: email MFA sends per auth code.
//   - ChangeEmailAttempts-<authId>: change-email code sends.
//
// A threshold of 0 disables a guard: every call is allowed and no counter is
// written. Counters always carry a TTL, so lockouts heal on their own.
//
// # What this package must NOT do
//
//   - Import goIdP or any sibling internal package.
//   - Make policy decisions beyond counting; callers decide consequences.
package limiters
