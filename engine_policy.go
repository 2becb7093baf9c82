package goIdP

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/notify"
)

// ChangePassword completes the change_password policy.
func (e *Engine) ChangePassword(ctx context.Context, code, newPassword string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expectPolicy(fc, PolicyChangePassword); err != nil {
		return nil, err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return nil, err
	}
	if fc.user.PasswordHash != "" {
		if same, _, _ := e.hasher.Verify(newPassword, fc.user.PasswordHash); same {
			return nil, ErrPasswordReuse
		}
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, ErrInternal
	}
	if _, err := e.updateUser(ctx, fc.user.ID, UserUpdate{PasswordHash: &hash}); err != nil {
		return nil, err
	}
	if fc.user.Email != "" {
		if err := e.loginGuard.Clear(ctx, normalizeEmail(fc.user.Email)); err != nil {
			e.logger.Warn("failed to clear login counter", zap.Error(err))
		}
		if e.email != nil {
			msg := notify.PasswordChangedEmail(fc.rec.User.Locale)
			if err := e.email.SendEmail(ctx, fc.user.Email, msg.Subject, msg.Body); err != nil {
				e.logger.Warn("failed to send password changed email", zap.String("auth_id", fc.user.AuthID), zap.Error(err))
			}
		}
	}
	return e.finishPolicy(ctx, fc, auditEventPasswordChanged)
}

// SendChangeEmailCode sends a verification code to the new address of a
// change_email policy.
func (e *Engine) SendChangeEmailCode(ctx context.Context, code, newEmail string) error {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return err
	}
	if err := expectPolicy(fc, PolicyChangeEmail); err != nil {
		return err
	}
	if e.email == nil {
		return ErrEmailNotConfigured
	}
	newEmail = normalizeEmail(newEmail)
	if newEmail == "" || newEmail == normalizeEmail(fc.user.Email) {
		return ErrInvalidRequest
	}
	if err := e.ensureEmailFree(ctx, newEmail); err != nil {
		return err
	}

	decision, err := e.changeEmailGuard.CheckAndIncrement(ctx, fc.user.AuthID)
	if err != nil {
		return backendError(err)
	}
	if !decision.Allowed {
		return lockout(ErrChangeEmailLimited, decision.RetryAfter)
	}

	otp, err := internal.NewOTP(e.config.Mfa.CodeDigits)
	if err != nil {
		return ErrInternal
	}
	ttl := e.config.Account.ChangeEmailCodeTTL
	if err := e.changeEmailCodes.Save(ctx, fc.user.AuthID, newEmail, otp, ttl); err != nil {
		return backendError(err)
	}
	msg := notify.ChangeEmailEmail(fc.rec.User.Locale, otp, ttlMinutes(ttl))
	if err := e.email.SendEmail(ctx, newEmail, msg.Subject, msg.Body); err != nil {
		return backendError(err)
	}
	return nil
}

// ChangeEmail completes the change_email policy with the code sent to
// newEmail.
func (e *Engine) ChangeEmail(ctx context.Context, code, newEmail, verificationCode string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expectPolicy(fc, PolicyChangeEmail); err != nil {
		return nil, err
	}
	newEmail = normalizeEmail(newEmail)
	if newEmail == "" || verificationCode == "" {
		return nil, ErrInvalidRequest
	}

	subject, err := e.changeEmailCodes.Consume(ctx, fc.user.AuthID, verificationCode, e.config.Account.VerificationMaxAttempts)
	if err != nil {
		return nil, challengeErr(err)
	}
	if subject != newEmail {
		return nil, ErrWrongVerificationCode
	}
	if err := e.ensureEmailFree(ctx, newEmail); err != nil {
		return nil, err
	}

	verified := true
	if _, err := e.updateUser(ctx, fc.user.ID, UserUpdate{Email: &newEmail, EmailVerified: &verified}); err != nil {
		return nil, err
	}
	if err := e.changeEmailGuard.Clear(ctx, fc.user.AuthID); err != nil {
		e.logger.Warn("failed to clear change email counter", zap.Error(err))
	}
	return e.finishPolicy(ctx, fc, auditEventEmailChanged)
}

func (e *Engine) ensureEmailFree(ctx context.Context, email string) error {
	existing, err := e.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return ErrEmailTaken
	case err != nil && !errors.Is(err, ErrUserNotFound):
		return providerErr(err)
	}
	return nil
}

func challengeErr(err error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeMismatch):
		return ErrWrongVerificationCode
	case errors.Is(err, stores.ErrChallengeAttemptsExceeded):
		return ErrVerificationAttempts
	default:
		return backendError(err)
	}
}

// ResetMfa completes the reset_mfa policy: every second factor of the user
// is removed, including recovery codes and passkeys.
func (e *Engine) ResetMfa(ctx context.Context, code string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expectPolicy(fc, PolicyResetMfa); err != nil {
		return nil, err
	}

	var (
		none    []MfaChannel
		empty   string
		off     bool
		counter int64 = -1
	)
	_, err = e.updateUser(ctx, fc.user.ID, UserUpdate{
		MfaTypes:         &none,
		OtpSecret:        &empty,
		OtpVerified:      &off,
		OtpLastCounter:   &counter,
		SmsPhone:         &empty,
		SmsPhoneVerified: &off,
	})
	if err != nil {
		return nil, err
	}
	if e.recovery != nil {
		if err := e.recovery.DeleteRecoveryCodes(ctx, fc.user.ID); err != nil {
			return nil, providerErr(err)
		}
	}
	if e.creds != nil {
		if err := e.creds.DeletePasskeys(ctx, fc.user.ID); err != nil {
			return nil, providerErr(err)
		}
	}
	res, err := e.finishPolicy(ctx, fc, auditEventMfaReset)
	if err != nil {
		return nil, err
	}
	res.ForgetDevice = fc.user.AuthID
	return res, nil
}

// SwitchOrgInfo lists the orgs the user can switch to.
type SwitchOrgInfo struct {
	Current string `json:"current"`
	Orgs    []Org  `json:"orgs"`
}

func (e *Engine) SwitchOrgInfo(ctx context.Context, code string) (*SwitchOrgInfo, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expectPolicy(fc, PolicySwitchOrg); err != nil {
		return nil, err
	}
	if e.orgs == nil {
		return nil, ErrFeatureDisabled
	}
	orgs, err := e.orgs.ListUserOrgs(ctx, fc.user.ID)
	if err != nil {
		return nil, providerErr(err)
	}
	active := orgs[:0:0]
	for _, o := range orgs {
		if o.IsActive {
			active = append(active, o)
		}
	}
	return &SwitchOrgInfo{Current: fc.user.Org, Orgs: active}, nil
}

// SwitchOrg completes the switch_org policy. Unlike the other policies it
// ends with a code the client exchanges for tokens scoped to the new org.
func (e *Engine) SwitchOrg(ctx context.Context, code, slug string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expectPolicy(fc, PolicySwitchOrg); err != nil {
		return nil, err
	}
	if e.orgs == nil {
		return nil, ErrFeatureDisabled
	}
	orgs, err := e.orgs.ListUserOrgs(ctx, fc.user.ID)
	if err != nil {
		return nil, providerErr(err)
	}
	idx := slices.IndexFunc(orgs, func(o Org) bool { return o.Slug == slug })
	if idx < 0 {
		return nil, ErrOrgNotMember
	}
	if !orgs[idx].IsActive {
		return nil, ErrOrgDisabled
	}

	user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{Org: &slug})
	if err != nil {
		return nil, err
	}
	fc.user = user
	rec, err := e.authCodes.Update(ctx, code, func(r *stores.AuthCodeRecord) error {
		r.Request.Org = slug
		return nil
	})
	if err != nil {
		return nil, mapAuthCodeErr(err)
	}
	fc.rec = rec

	ev := flows.PolicyCompleted()
	res, err := e.commit(ctx, fc, &ev)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricPolicyCompleted)
	e.emitAudit(ctx, auditEventOrgSwitched, true, fc.user.AuthID, fc.rec.App.ClientID, nil, func() map[string]string {
		return map[string]string{"org": slug}
	})
	return res, nil
}
