package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/httpapi"
)

// serverConfig is everything the binary reads from the environment.
type serverConfig struct {
	Addr            string
	MetricsAddr     string
	LogDevelopment  bool
	ShutdownTimeout time.Duration

	RedisURL    string
	PostgresDSN string
	Migrate     bool

	CookieHashKey  []byte
	CookieBlockKey []byte
	CookieSecure   bool
	CookieDomain   string

	Engine goIdP.Config
	HTTP   httpapi.Config

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	TwilioAccountSID          string
	TwilioAuthToken           string
	TwilioFrom                string
	TwilioMessagingServiceSID string

	GoogleClientID     string
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	PasskeyRPID      string
	PasskeyRPName    string
	PasskeyRPOrigins []string

	AuditLog  bool
	AuditFile string
}

func setDefaults(v *viper.Viper) {
	d := goIdP.DefaultConfig()
	h := httpapi.DefaultConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_development", false)
	v.SetDefault("shutdown_timeout", 20*time.Second)
	v.SetDefault("redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("migrate", true)
	v.SetDefault("cookie_secure", true)
	v.SetDefault("production_mode", true)

	v.SetDefault("issuer", "")
	v.SetDefault("kv_prefix", d.KV.Prefix)
	v.SetDefault("access_token_ttl", d.Token.AccessTTL)
	v.SetDefault("id_token_ttl", d.Token.IDTokenTTL)
	v.SetDefault("refresh_token_ttl", d.Token.RefreshTTL)
	v.SetDefault("s2s_access_token_ttl", d.Token.S2SAccessTTL)
	v.SetDefault("auth_code_ttl", d.Token.AuthCodeTTL)
	v.SetDefault("session_ttl", d.Session.TTL)

	v.SetDefault("mfa_require_email", d.Mfa.RequireEmail)
	v.SetDefault("mfa_require_otp", d.Mfa.RequireOtp)
	v.SetDefault("mfa_require_sms", d.Mfa.RequireSms)
	v.SetDefault("mfa_enforce", "")
	v.SetDefault("mfa_code_ttl", d.Mfa.CodeTTL)
	v.SetDefault("mfa_email_attempt_threshold", d.Mfa.EmailAttemptThreshold)
	v.SetDefault("mfa_sms_attempt_threshold", d.Mfa.SmsAttemptThreshold)
	v.SetDefault("mfa_otp_attempt_threshold", d.Mfa.OtpAttemptThreshold)
	v.SetDefault("mfa_sms_send_threshold", d.Mfa.SmsSendThreshold)
	v.SetDefault("mfa_email_send_threshold", d.Mfa.EmailSendThreshold)
	v.SetDefault("mfa_remember_device_days", d.Mfa.RememberDeviceDays)
	v.SetDefault("mfa_recovery_codes", d.Mfa.RecoveryCodes)
	v.SetDefault("mfa_offer_passkey_enroll", d.Mfa.OfferPasskeyEnroll)
	v.SetDefault("otp_issuer", d.TOTP.Issuer)

	v.SetDefault("consent_enabled", d.Consent.Enabled)

	v.SetDefault("login_lockout_threshold", d.Lockout.LoginThreshold)
	v.SetDefault("login_lockout_window", d.Lockout.LoginWindow)
	v.SetDefault("unlock_on_password_reset", d.Lockout.UnlockOnPasswordReset)
	v.SetDefault("password_reset_threshold", d.Lockout.PasswordResetThreshold)
	v.SetDefault("password_reset_window", d.Lockout.PasswordResetWindow)
	v.SetDefault("change_email_threshold", d.Lockout.ChangeEmailThreshold)
	v.SetDefault("change_email_window", d.Lockout.ChangeEmailWindow)
	v.SetDefault("send_window", d.Lockout.SendWindow)

	v.SetDefault("enable_sign_up", d.Account.EnableSignUp)
	v.SetDefault("enable_names", d.Account.EnableNames)
	v.SetDefault("blocked_policies", "")
	v.SetDefault("locales", strings.Join(d.Account.Locales, ","))
	v.SetDefault("terms_link", "")
	v.SetDefault("privacy_policy_link", "")
	v.SetDefault("email_verification", d.Account.EmailVerification)
	v.SetDefault("password_min_length", d.Account.PasswordMinLength)
	v.SetDefault("password_reset_enabled", d.PasswordReset.Enabled)

	v.SetDefault("ui_path", h.UIPath)
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("rate_limit_rpm", h.RequestsPerMinute)
	v.SetDefault("rate_limit_burst", h.Burst)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("smtp_port", 587)
	v.SetDefault("passkey_rp_name", "goIdP")
	v.SetDefault("audit_log", false)
	v.SetDefault("audit_file", "")
}

// loadConfig reads .env when present, then the environment. Every option is
// the upper-cased key, prefixed with GOIDP_.
func loadConfig() (serverConfig, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("goidp")
	v.AutomaticEnv()
	setDefaults(v)

	cfg := serverConfig{
		Addr:            v.GetString("addr"),
		MetricsAddr:     v.GetString("metrics_addr"),
		LogDevelopment:  v.GetBool("log_development"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		RedisURL:        v.GetString("redis_url"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		Migrate:         v.GetBool("migrate"),
		CookieSecure:    v.GetBool("cookie_secure"),
		CookieDomain:    v.GetString("cookie_domain"),

		SMTPHost:     v.GetString("smtp_host"),
		SMTPPort:     v.GetInt("smtp_port"),
		SMTPUser:     v.GetString("smtp_user"),
		SMTPPassword: v.GetString("smtp_password"),
		SMTPFrom:     v.GetString("smtp_from"),

		TwilioAccountSID:          v.GetString("twilio_account_sid"),
		TwilioAuthToken:           v.GetString("twilio_auth_token"),
		TwilioFrom:                v.GetString("twilio_from"),
		TwilioMessagingServiceSID: v.GetString("twilio_messaging_service_sid"),

		GoogleClientID:     v.GetString("google_client_id"),
		GitHubClientID:     v.GetString("github_client_id"),
		GitHubClientSecret: v.GetString("github_client_secret"),
		GitHubRedirectURL:  v.GetString("github_redirect_url"),

		PasskeyRPID:      v.GetString("passkey_rp_id"),
		PasskeyRPName:    v.GetString("passkey_rp_name"),
		PasskeyRPOrigins: splitList(v.GetString("passkey_rp_origins")),

		AuditLog:  v.GetBool("audit_log"),
		AuditFile: v.GetString("audit_file"),
	}
	if cfg.PostgresDSN == "" {
		return cfg, errors.New("GOIDP_POSTGRES_DSN is required")
	}

	var err error
	if cfg.CookieHashKey, err = decodeKey(v.GetString("cookie_hash_key")); err != nil {
		return cfg, fmt.Errorf("GOIDP_COOKIE_HASH_KEY: %w", err)
	}
	if cfg.CookieBlockKey, err = decodeKey(v.GetString("cookie_block_key")); err != nil {
		return cfg, fmt.Errorf("GOIDP_COOKIE_BLOCK_KEY: %w", err)
	}

	e := goIdP.DefaultConfig()
	e.Token.Issuer = v.GetString("issuer")
	e.Token.AccessTTL = v.GetDuration("access_token_ttl")
	e.Token.IDTokenTTL = v.GetDuration("id_token_ttl")
	e.Token.RefreshTTL = v.GetDuration("refresh_token_ttl")
	e.Token.S2SAccessTTL = v.GetDuration("s2s_access_token_ttl")
	e.Token.AuthCodeTTL = v.GetDuration("auth_code_ttl")
	e.Session.TTL = v.GetDuration("session_ttl")
	e.KV.Prefix = v.GetString("kv_prefix")

	e.Mfa.RequireEmail = v.GetBool("mfa_require_email")
	e.Mfa.RequireOtp = v.GetBool("mfa_require_otp")
	e.Mfa.RequireSms = v.GetBool("mfa_require_sms")
	for _, ch := range splitList(v.GetString("mfa_enforce")) {
		e.Mfa.Enforce = append(e.Mfa.Enforce, goIdP.MfaChannel(ch))
	}
	e.Mfa.CodeTTL = v.GetDuration("mfa_code_ttl")
	e.Mfa.EmailAttemptThreshold = v.GetInt("mfa_email_attempt_threshold")
	e.Mfa.SmsAttemptThreshold = v.GetInt("mfa_sms_attempt_threshold")
	e.Mfa.OtpAttemptThreshold = v.GetInt("mfa_otp_attempt_threshold")
	e.Mfa.SmsSendThreshold = v.GetInt("mfa_sms_send_threshold")
	e.Mfa.EmailSendThreshold = v.GetInt("mfa_email_send_threshold")
	e.Mfa.RememberDeviceDays = v.GetInt("mfa_remember_device_days")
	e.Mfa.RecoveryCodes = v.GetBool("mfa_recovery_codes")
	e.Mfa.OfferPasskeyEnroll = v.GetBool("mfa_offer_passkey_enroll")
	e.TOTP.Issuer = v.GetString("otp_issuer")

	e.Consent.Enabled = v.GetBool("consent_enabled")

	e.Lockout.LoginThreshold = v.GetInt("login_lockout_threshold")
	e.Lockout.LoginWindow = v.GetDuration("login_lockout_window")
	e.Lockout.UnlockOnPasswordReset = v.GetBool("unlock_on_password_reset")
	e.Lockout.PasswordResetThreshold = v.GetInt("password_reset_threshold")
	e.Lockout.PasswordResetWindow = v.GetDuration("password_reset_window")
	e.Lockout.ChangeEmailThreshold = v.GetInt("change_email_threshold")
	e.Lockout.ChangeEmailWindow = v.GetDuration("change_email_window")
	e.Lockout.SendWindow = v.GetDuration("send_window")

	e.Account.EnableSignUp = v.GetBool("enable_sign_up")
	e.Account.EnableNames = v.GetBool("enable_names")
	for _, p := range splitList(v.GetString("blocked_policies")) {
		e.Account.BlockedPolicies = append(e.Account.BlockedPolicies, goIdP.Policy(p))
	}
	e.Account.Locales = splitList(v.GetString("locales"))
	e.Account.TermsLink = v.GetString("terms_link")
	e.Account.PrivacyPolicyLink = v.GetString("privacy_policy_link")
	e.Account.EmailVerification = v.GetBool("email_verification")
	e.Account.PasswordMinLength = v.GetInt("password_min_length")
	e.PasswordReset.Enabled = v.GetBool("password_reset_enabled")

	e.Audit.Enabled = cfg.AuditLog || cfg.AuditFile != ""
	e.Metrics.Enabled = cfg.MetricsAddr != ""
	e.Metrics.EnableLatencyHistograms = e.Metrics.Enabled
	e.Security.ProductionMode = v.GetBool("production_mode")
	e.Security.RequireSecureCookies = cfg.CookieSecure
	cfg.Engine = e

	cfg.HTTP = httpapi.Config{
		UIPath:            v.GetString("ui_path"),
		AllowedOrigins:    splitList(v.GetString("cors_allowed_origins")),
		RequestsPerMinute: v.GetInt("rate_limit_rpm"),
		Burst:             v.GetInt("rate_limit_burst"),
		TrustProxy:        v.GetBool("trust_proxy"),
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// decodeKey reads a base64 cookie key. An empty value means no key.
func decodeKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("must be base64")
	}
	return key, nil
}
