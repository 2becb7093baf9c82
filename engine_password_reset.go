package goIdP

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/notify"
)

const passwordResetCodeDigits = 8

// RequestPasswordReset emails a reset code. It returns nil for unknown and
// disabled accounts and when delivery fails, so the response never tells
// whether an email is registered. Only the request limit is reported.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, locale string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrFeatureDisabled
	}
	if e.email == nil {
		return ErrEmailNotConfigured
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidRequest
	}

	decision, err := e.resetGuard.CheckAndIncrement(ctx, email)
	if err != nil {
		return backendError(err)
	}
	if !decision.Allowed {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", ErrPasswordResetLimited, nil)
		return lockout(ErrPasswordResetLimited, decision.RetryAfter)
	}
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return providerErr(err)
	}
	if !user.Usable() {
		return nil
	}

	code, err := internal.NewOTP(passwordResetCodeDigits)
	if err != nil {
		return ErrInternal
	}
	ttl := e.config.PasswordReset.CodeTTL
	if err := e.resetCodes.Save(ctx, user.AuthID, email, code, ttl); err != nil {
		return backendError(err)
	}

	if locale == "" {
		locale = user.Locale
	}
	msg := notify.PasswordResetEmail(e.resolveLocale(locale), code, ttlMinutes(ttl))
	if err := e.email.SendEmail(ctx, email, msg.Subject, msg.Body); err != nil {
		e.logger.Warn("failed to send password reset email", zap.String("auth_id", user.AuthID), zap.Error(err))
		return nil
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.AuthID, "", nil, nil)
	return nil
}

// ResetPassword sets a new password with a code from RequestPasswordReset.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrFeatureDisabled
	}
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return ErrInvalidRequest
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrWrongVerificationCode
		}
		return providerErr(err)
	}
	subject, err := e.resetCodes.Consume(ctx, user.AuthID, code, e.config.PasswordReset.MaxAttempts)
	if err != nil {
		err = challengeErr(err)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.AuthID, "", err, nil)
		return err
	}
	if subject != email {
		return ErrWrongVerificationCode
	}
	if !user.Usable() {
		return ErrUserDisabled
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return ErrInternal
	}
	if _, err := e.updateUser(ctx, user.ID, UserUpdate{PasswordHash: &hash}); err != nil {
		return err
	}
	if e.config.Lockout.UnlockOnPasswordReset {
		if err := e.loginGuard.Clear(ctx, email); err != nil {
			e.logger.Warn("failed to clear login counter", zap.Error(err))
		}
	}
	if err := e.resetGuard.Clear(ctx, email); err != nil {
		e.logger.Warn("failed to clear password reset counter", zap.Error(err))
	}

	e.metricInc(MetricPasswordResetConfirm)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.AuthID, "", nil, nil)
	return nil
}
