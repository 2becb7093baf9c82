package goIdP

import "time"

// LintWarning is an advisory finding about a valid but risky configuration.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint reports settings that Validate accepts but that weaken the
// deployment.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.Lockout.LoginThreshold == 0 {
		add("login_lockout_disabled", "login lockout threshold is 0; password guessing is unbounded")
	}
	if c.Mfa.SmsSendThreshold == 0 {
		add("sms_send_unlimited", "sms send threshold is 0; sms bombing is not limited")
	}
	if c.Mfa.EmailAttemptThreshold == 0 || c.Mfa.SmsAttemptThreshold == 0 || c.Mfa.OtpAttemptThreshold == 0 {
		add("mfa_attempts_unlimited", "an mfa attempt threshold is 0; codes can be brute forced")
	}
	if c.Token.AccessTTL > time.Hour {
		add("access_ttl_long", "access tokens live longer than one hour")
	}
	if c.Token.RefreshTTL > 90*24*time.Hour {
		add("refresh_ttl_long", "refresh tokens live longer than 90 days and are never rotated")
	}
	if c.Token.Leeway > time.Minute {
		add("leeway_large", "token leeway is above one minute")
	}
	if c.Session.TTL > 24*time.Hour {
		add("session_ttl_long", "sso sessions live longer than one day")
	}
	if c.Mfa.RememberDeviceDays > 30 {
		add("remember_device_long", "remembered devices skip mfa for more than 30 days")
	}
	if !c.Mfa.RequireEmail && !c.Mfa.RequireOtp && !c.Mfa.RequireSms && len(c.Mfa.Enforce) == 0 {
		add("mfa_optional", "no mfa channel is required or enforced")
	}
	if !c.Security.RequireSecureCookies {
		add("insecure_cookies", "session cookies are not marked secure")
	}
	return ws
}
