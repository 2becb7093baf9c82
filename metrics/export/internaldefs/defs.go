package internaldefs

import (
	goIdP "github.com/MrEthical07/goIdP"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goIdP.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   goIdP.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goIdP.MetricAuthorizeRequest, Name: "goidp_authorize_request_total", Help: "Validated authorize requests."},
	{ID: goIdP.MetricSessionShortcut, Name: "goidp_session_shortcut_total", Help: "Authorize requests completed from an existing browser session."},
	{ID: goIdP.MetricPasswordSuccess, Name: "goidp_password_success_total", Help: "Successful password sign ins."},
	{ID: goIdP.MetricPasswordFailure, Name: "goidp_password_failure_total", Help: "Failed password sign ins."},
	{ID: goIdP.MetricLoginLocked, Name: "goidp_login_locked_total", Help: "Sign ins rejected by the account lockout."},
	{ID: goIdP.MetricSignUp, Name: "goidp_sign_up_total", Help: "Accounts created through sign up."},
	{ID: goIdP.MetricSocialSignIn, Name: "goidp_social_sign_in_total", Help: "Successful social sign ins."},
	{ID: goIdP.MetricPasskeySignIn, Name: "goidp_passkey_sign_in_total", Help: "Successful passkey sign ins."},
	{ID: goIdP.MetricRecoveryCodeUsed, Name: "goidp_recovery_code_used_total", Help: "Sign ins completed with a recovery code."},
	{ID: goIdP.MetricMfaCodeSent, Name: "goidp_mfa_code_sent_total", Help: "MFA codes delivered by email or SMS."},
	{ID: goIdP.MetricMfaSendLimited, Name: "goidp_mfa_send_limited_total", Help: "MFA code sends rejected by the send limit."},
	{ID: goIdP.MetricMfaVerified, Name: "goidp_mfa_verified_total", Help: "Successful MFA verifications."},
	{ID: goIdP.MetricMfaFailure, Name: "goidp_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: goIdP.MetricMfaLocked, Name: "goidp_mfa_locked_total", Help: "MFA verifications rejected by the attempt lock."},
	{ID: goIdP.MetricConsentGranted, Name: "goidp_consent_granted_total", Help: "Consents recorded."},
	{ID: goIdP.MetricPolicyCompleted, Name: "goidp_policy_completed_total", Help: "Completed account policies."},
	{ID: goIdP.MetricCodeExchangeSuccess, Name: "goidp_code_exchange_success_total", Help: "Authorization codes exchanged for tokens."},
	{ID: goIdP.MetricCodeExchangeFailure, Name: "goidp_code_exchange_failure_total", Help: "Rejected authorization code exchanges."},
	{ID: goIdP.MetricRefreshSuccess, Name: "goidp_refresh_success_total", Help: "Successful refresh token grants."},
	{ID: goIdP.MetricRefreshFailure, Name: "goidp_refresh_failure_total", Help: "Rejected refresh token grants."},
	{ID: goIdP.MetricClientCredentials, Name: "goidp_client_credentials_total", Help: "Tokens issued with the client credentials grant."},
	{ID: goIdP.MetricClientAuthFailure, Name: "goidp_client_auth_failure_total", Help: "Failed client authentications."},
	{ID: goIdP.MetricRevoke, Name: "goidp_revoke_total", Help: "Revoked refresh tokens."},
	{ID: goIdP.MetricUserInfo, Name: "goidp_userinfo_total", Help: "Served userinfo requests."},
	{ID: goIdP.MetricLogout, Name: "goidp_logout_total", Help: "Logout operations."},
	{ID: goIdP.MetricPasswordResetRequest, Name: "goidp_password_reset_request_total", Help: "Password reset codes sent."},
	{ID: goIdP.MetricPasswordResetConfirm, Name: "goidp_password_reset_confirm_total", Help: "Completed password resets."},
	{ID: goIdP.MetricEmailVerificationSent, Name: "goidp_email_verification_sent_total", Help: "Email verification codes sent."},
	{ID: goIdP.MetricEmailVerified, Name: "goidp_email_verified_total", Help: "Verified email addresses."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goIdP.MetricTokenLatency, Name: "goidp_token_latency_seconds", Help: "Token endpoint latency."},
}

// AuditDroppedName is the counter of audit events dropped by the dispatcher.
const (
	AuditDroppedName = "goidp_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// emit one instrument per bucket.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
