package goIdP

import (
	"context"
	"strings"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/notify"
)

// SendEmailVerification emails a verification code to the user. The code
// is stored under the auth id and replaces any earlier one.
func (e *Engine) SendEmailVerification(ctx context.Context, authID string) error {
	if !e.config.Account.EmailVerification {
		return ErrFeatureDisabled
	}
	if e.email == nil {
		return ErrEmailNotConfigured
	}
	user, err := e.users.GetUserByAuthID(ctx, authID)
	if err != nil {
		return providerErr(err)
	}
	if !user.Usable() {
		return ErrUserDisabled
	}
	if user.Email == "" || user.EmailVerified {
		return nil
	}

	code, err := internal.NewOTP(e.config.Mfa.CodeDigits)
	if err != nil {
		return ErrInternal
	}
	if err := e.verifyCodes.Save(ctx, user.AuthID, normalizeEmail(user.Email), code, e.config.Account.VerificationCodeTTL); err != nil {
		return backendError(err)
	}
	msg := notify.EmailVerificationEmail(e.resolveLocale(user.Locale), code)
	if err := e.email.SendEmail(ctx, user.Email, msg.Subject, msg.Body); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricEmailVerificationSent)
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, user.AuthID, "", nil, nil)
	return nil
}

// VerifyEmail checks a code from SendEmailVerification. A code sent before
// an email change no longer verifies.
func (e *Engine) VerifyEmail(ctx context.Context, authID, code string) error {
	if !e.config.Account.EmailVerification {
		return ErrFeatureDisabled
	}
	code = strings.TrimSpace(code)
	if authID == "" || code == "" {
		return ErrInvalidRequest
	}
	user, err := e.users.GetUserByAuthID(ctx, authID)
	if err != nil {
		return providerErr(err)
	}
	if !user.Usable() {
		return ErrUserDisabled
	}

	subject, err := e.verifyCodes.Consume(ctx, user.AuthID, code, e.config.Account.VerificationMaxAttempts)
	if err != nil {
		err = challengeErr(err)
		e.emitAudit(ctx, auditEventEmailVerified, false, user.AuthID, "", err, nil)
		return err
	}
	if subject != normalizeEmail(user.Email) {
		return ErrWrongVerificationCode
	}

	verified := true
	if _, err := e.updateUser(ctx, user.ID, UserUpdate{EmailVerified: &verified}); err != nil {
		return err
	}
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, user.AuthID, "", nil, nil)
	return nil
}
