package goIdP

import (
	"slices"
	"sort"
)

// SecurityReport describes the security posture the engine runs with. It
// reads only the immutable configuration and never touches a backend.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	providers := make([]string, 0, len(e.social))
	for name := range e.social {
		providers = append(providers, name)
	}
	sort.Strings(providers)

	return SecurityReport{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: "RS256",
		AccessTTL:        cfg.Token.AccessTTL,
		RefreshTTL:       cfg.Token.RefreshTTL,
		AuthCodeTTL:      cfg.Token.AuthCodeTTL,
		SessionTTL:       cfg.Session.TTL,
		SSOEnabled:       cfg.Session.TTL > 0,
		RefreshRotation:  false,
		Argon2: PasswordConfigReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		SystemMfa:             cfg.Mfa.systemRequired(),
		EnforcedMfa:           slices.Clone(cfg.Mfa.Enforce),
		RememberDeviceDays:    cfg.Mfa.RememberDeviceDays,
		RecoveryCodesEnabled:  cfg.Mfa.RecoveryCodes,
		PasskeysEnabled:       e.passkeys != nil,
		ConsentEnabled:        cfg.Consent.Enabled,
		LoginLockoutActive:    e.loginGuard.Enabled(),
		SmsSendLimitActive:    e.smsSendGuard.Enabled(),
		PasswordResetActive:   cfg.PasswordReset.Enabled && e.email != nil,
		EmailVerificationSent: cfg.Account.EmailVerification && e.email != nil,
		SocialProviders:       providers,
	}
}
