package goIdP

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goIdP/internal/flows"
)

// Config is the immutable configuration snapshot of an [Engine]. The builder
// clones it once; components receive the values they need at construction.
type Config struct {
	Token         TokenConfig
	Session       SessionConfig
	Mfa           MfaConfig
	TOTP          TOTPConfig
	Consent       ConsentConfig
	Lockout       LockoutConfig
	Account       AccountConfig
	Password      PasswordConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
	KV            KVConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls token lifetimes and signing.
type TokenConfig struct {
	Issuer       string
	AccessTTL    time.Duration
	IDTokenTTL   time.Duration
	RefreshTTL   time.Duration
	S2SAccessTTL time.Duration
	AuthCodeTTL  time.Duration
	// KeyCacheTTL bounds how long a process trusts its copy of the signing
	// keys before reloading them from the KV store.
	KeyCacheTTL time.Duration
	Leeway      time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the SSO session. TTL 0 disables SSO and forces
// re-authentication on every /authorize.
type SessionConfig struct {
	TTL time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MfaConfig controls second factors.
type MfaConfig struct {
	RequireEmail bool
	RequireOtp   bool
	RequireSms   bool
	// Enforce lists channels of which every user must enroll one.
	Enforce []MfaChannel

	CodeTTL    time.Duration
	CodeDigits int

	// Verification attempt thresholds per channel. 0 disables locking.
	EmailAttemptThreshold int
	SmsAttemptThreshold   int
	OtpAttemptThreshold   int

	// Send thresholds per auth code. 0 disables the send limit.
	SmsSendThreshold   int
	EmailSendThreshold int

	RememberDeviceDays int

	RecoveryCodes     bool
	RecoveryCodeCount int

	// OfferPasskeyEnroll asks users without a passkey to enroll one after
	// MFA. Requires a passkey service.
	OfferPasskeyEnroll bool
}

// systemRequired lists the channels the system flags require.
func (c MfaConfig) systemRequired() []MfaChannel {
	var out []MfaChannel
	if c.RequireOtp {
		out = append(out, MfaOtp)
	}
	if c.RequireSms {
		out = append(out, MfaSms)
	}
	if c.RequireEmail {
		out = append(out, MfaEmail)
	}
	return out
}

// TOTPConfig controls authenticator app codes.
type TOTPConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
}

// ConsentConfig toggles the consent step system wide.
type ConsentConfig struct {
	Enabled bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the threshold guards. A threshold of 0 disables
// the guard.
type LockoutConfig struct {
	LoginThreshold         int
	LoginWindow            time.Duration
	UnlockOnPasswordReset  bool
	PasswordResetThreshold int
	PasswordResetWindow    time.Duration
	ChangeEmailThreshold   int
	ChangeEmailWindow      time.Duration
	// SendWindow is the window of the SMS and email send guards.
	SendWindow time.Duration
}

/*
====================================
ACCOUNT CONFIG
====================================
*/

// AccountConfig controls sign up and account level policies.
type AccountConfig struct {
	EnableSignUp bool
	EnableNames  bool
	// BlockedPolicies lists policies rejected on /authorize.
	BlockedPolicies   []Policy
	Locales           []string
	TermsLink         string
	PrivacyPolicyLink string

	EmailVerification       bool
	VerificationCodeTTL     time.Duration
	VerificationMaxAttempts int
	ChangeEmailCodeTTL      time.Duration

	PasswordMinLength      int
	PasswordRequireDigit   bool
	PasswordRequireUpper   bool
	PasswordRequireLower   bool
	PasswordRequireSpecial bool
}

// PasswordConfig holds the Argon2id parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// PasswordResetConfig controls the reset code flow.
type PasswordResetConfig struct {
	Enabled     bool
	CodeTTL     time.Duration
	MaxAttempts int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig holds deployment hardening flags.
type SecurityConfig struct {
	ProductionMode       bool
	RequireSecureCookies bool
}

// KVConfig namespaces every key of the ephemeral store.
type KVConfig struct {
	Prefix string
}

/*
====================================
DEFAULTS
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:    1800 * time.Second,
			IDTokenTTL:   1800 * time.Second,
			RefreshTTL:   30 * 24 * time.Hour,
			S2SAccessTTL: 24 * time.Hour,
			AuthCodeTTL:  5 * time.Minute,
			KeyCacheTTL:  5 * time.Minute,
			Leeway:       30 * time.Second,
		},
		Session: SessionConfig{
			TTL: 30 * time.Minute,
		},
		Mfa: MfaConfig{
			CodeTTL:               5 * time.Minute,
			CodeDigits:            6,
			EmailAttemptThreshold: 5,
			SmsAttemptThreshold:   5,
			OtpAttemptThreshold:   5,
			SmsSendThreshold:      5,
			EmailSendThreshold:    5,
			RememberDeviceDays:    0,
			RecoveryCodes:         false,
			RecoveryCodeCount:     10,
		},
		TOTP: TOTPConfig{
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
		},
		Consent: ConsentConfig{
			Enabled: true,
		},
		Lockout: LockoutConfig{
			LoginThreshold:         5,
			LoginWindow:            30 * time.Minute,
			UnlockOnPasswordReset:  true,
			PasswordResetThreshold: 5,
			PasswordResetWindow:    30 * time.Minute,
			ChangeEmailThreshold:   5,
			ChangeEmailWindow:      30 * time.Minute,
			SendWindow:             30 * time.Minute,
		},
		Account: AccountConfig{
			EnableSignUp:            true,
			Locales:                 []string{"en"},
			EmailVerification:       false,
			VerificationCodeTTL:     2 * time.Hour,
			VerificationMaxAttempts: 5,
			ChangeEmailCodeTTL:      10 * time.Minute,
			PasswordMinLength:       8,
			PasswordRequireDigit:    true,
			PasswordRequireUpper:    true,
			PasswordRequireLower:    true,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     true,
			CodeTTL:     20 * time.Minute,
			MaxAttempts: 5,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

// DefaultConfig returns the default configuration. Token.Issuer must still
// be set before building an engine.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Mfa.Enforce = slices.Clone(cfg.Mfa.Enforce)
	out.Account.BlockedPolicies = slices.Clone(cfg.Account.BlockedPolicies)
	out.Account.Locales = slices.Clone(cfg.Account.Locales)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// Token
	if strings.TrimSpace(c.Token.Issuer) == "" {
		return errors.New("Token Issuer is required")
	}
	if c.Token.AccessTTL <= 0 || c.Token.IDTokenTTL <= 0 || c.Token.S2SAccessTTL <= 0 {
		return errors.New("Token AccessTTL, IDTokenTTL and S2SAccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.AuthCodeTTL <= 0 || c.Token.AuthCodeTTL > time.Hour {
		return errors.New("Token AuthCodeTTL must be in (0, 1h]")
	}
	if c.Token.KeyCacheTTL < 0 {
		return errors.New("Token KeyCacheTTL must be >= 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be in [0, 2m]")
	}

	// Session
	if c.Session.TTL < 0 {
		return errors.New("Session TTL must be >= 0")
	}

	// MFA
	if c.Mfa.CodeTTL <= 0 {
		return errors.New("Mfa CodeTTL must be > 0")
	}
	if c.Mfa.CodeDigits < 6 || c.Mfa.CodeDigits > 8 {
		return errors.New("Mfa CodeDigits must be between 6 and 8")
	}
	for _, ch := range c.Mfa.Enforce {
		if !ch.Valid() {
			return fmt.Errorf("Mfa Enforce contains unknown channel %q", ch)
		}
	}
	if c.Mfa.EmailAttemptThreshold < 0 || c.Mfa.SmsAttemptThreshold < 0 || c.Mfa.OtpAttemptThreshold < 0 ||
		c.Mfa.SmsSendThreshold < 0 || c.Mfa.EmailSendThreshold < 0 {
		return errors.New("Mfa thresholds must be >= 0")
	}
	if c.Mfa.RememberDeviceDays < 0 || c.Mfa.RememberDeviceDays > 365 {
		return errors.New("Mfa RememberDeviceDays must be between 0 and 365")
	}
	if c.Mfa.RecoveryCodes && (c.Mfa.RecoveryCodeCount < 4 || c.Mfa.RecoveryCodeCount > 32) {
		return errors.New("Mfa RecoveryCodeCount must be between 4 and 32")
	}

	// TOTP
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be between 0 and 3")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256 or SHA512")
	}

	// Lockout
	l := c.Lockout
	if l.LoginThreshold < 0 || l.PasswordResetThreshold < 0 || l.ChangeEmailThreshold < 0 {
		return errors.New("Lockout thresholds must be >= 0")
	}
	if (l.LoginThreshold > 0 && l.LoginWindow <= 0) ||
		(l.PasswordResetThreshold > 0 && l.PasswordResetWindow <= 0) ||
		(l.ChangeEmailThreshold > 0 && l.ChangeEmailWindow <= 0) {
		return errors.New("Lockout windows must be > 0 for enabled guards")
	}
	if (c.Mfa.SmsSendThreshold > 0 || c.Mfa.EmailSendThreshold > 0) && l.SendWindow <= 0 {
		return errors.New("Lockout SendWindow must be > 0 when send thresholds are set")
	}

	// Account
	if len(c.Account.Locales) == 0 {
		return errors.New("Account Locales must not be empty")
	}
	for _, p := range c.Account.BlockedPolicies {
		if p == PolicyNone || !flows.Policy(p).Valid() {
			return fmt.Errorf("Account BlockedPolicies contains invalid policy %q", p)
		}
	}
	if c.Account.EmailVerification && c.Account.VerificationCodeTTL <= 0 {
		return errors.New("Account VerificationCodeTTL must be > 0")
	}
	if c.Account.ChangeEmailCodeTTL <= 0 {
		return errors.New("Account ChangeEmailCodeTTL must be > 0")
	}
	if c.Account.PasswordMinLength < 8 {
		return errors.New("Account PasswordMinLength must be >= 8")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Password Reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.CodeTTL <= 0 {
			return errors.New("PasswordReset CodeTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Production hardening
	if c.Security.ProductionMode {
		if !c.Security.RequireSecureCookies {
			return errors.New("ProductionMode requires RequireSecureCookies")
		}
		if c.Lockout.LoginThreshold == 0 {
			return errors.New("ProductionMode requires a login lockout threshold")
		}
	}

	return nil
}
