package goIdP

import (
	"context"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/limiters"
	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/kv"
	"github.com/MrEthical07/goIdP/notify"
)

var e164 = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// OtpSetupResult is shown on the authenticator app setup page.
type OtpSetupResult struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	// QRCode is a PNG data URL of URI.
	QRCode string `json:"qrCode"`
}

// SmsMfaInfo describes the SMS page of a flow.
type SmsMfaInfo struct {
	MaskedPhone   string `json:"phoneNumber,omitempty"`
	SetupRequired bool   `json:"setupRequired"`
}

// MfaEnroll records the channel the user picked on the enrollment page. The
// flow then asks for that channel's setup or code.
func (e *Engine) MfaEnroll(ctx context.Context, code string, channel MfaChannel) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaEnroll, ""); err != nil {
		return nil, err
	}
	req, err := e.requirements(ctx, fc.rec, fc.user, fc.app)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(req.EnrollChoices, channel) {
		return nil, ErrWrongMfaType
	}
	switch channel {
	case MfaSms:
		if e.sms == nil {
			return nil, ErrSmsNotConfigured
		}
	case MfaEmail:
		if e.email == nil {
			return nil, ErrEmailNotConfigured
		}
	}

	if !slices.Contains(fc.user.MfaTypes, channel) {
		types := append(slices.Clone(fc.user.MfaTypes), channel)
		user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{MfaTypes: &types})
		if err != nil {
			return nil, err
		}
		fc.user = user
	}

	ev := flows.MfaEnrolled(channel)
	res, err := e.commit(ctx, fc, &ev)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventMfaEnrolled, true, fc.user.AuthID, fc.rec.App.ClientID, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
	return res, nil
}

/*
====================================
AUTHENTICATOR APP
====================================
*/

// OtpSetup returns the shared secret for a user who has not verified an
// authenticator app yet. The secret is generated on first use and kept
// until verified.
func (e *Engine) OtpSetup(ctx context.Context, code string) (*OtpSetupResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaOtp); err != nil {
		return nil, err
	}
	if fc.user.OtpVerified && fc.user.OtpSecret != "" {
		return nil, ErrWrongStep
	}

	account := otpAccount(fc.user)
	if fc.user.OtpSecret != "" {
		setup, err := e.totp.URI(fc.user.OtpSecret, account)
		if err != nil {
			return nil, ErrInternal
		}
		return &OtpSetupResult{Secret: setup.Secret, URI: setup.URI, QRCode: setup.QRDataURL}, nil
	}

	setup, err := e.totp.Generate(account)
	if err != nil {
		return nil, ErrInternal
	}
	if _, err := e.updateUser(ctx, fc.user.ID, UserUpdate{OtpSecret: &setup.Secret}); err != nil {
		return nil, err
	}
	return &OtpSetupResult{Secret: setup.Secret, URI: setup.URI, QRCode: setup.QRDataURL}, nil
}

func otpAccount(u *User) string {
	if u.Email != "" {
		return u.Email
	}
	return u.AuthID
}

// VerifyOtpMfa checks an authenticator app code. The first success also
// marks the app as verified.
func (e *Engine) VerifyOtpMfa(ctx context.Context, code, mfaCode string, remember bool) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaOtp); err != nil {
		return nil, err
	}
	if fc.user.OtpSecret == "" {
		return nil, ErrOtpNotSetUp
	}

	if err := e.otpCodes.Ensure(ctx, code, e.config.Token.AuthCodeTTL); err != nil {
		return nil, backendError(err)
	}

	now := e.now()
	var counter int64
	err = e.otpCodes.Attempt(ctx, code, e.config.Mfa.OtpAttemptThreshold, func(*stores.MfaCodeRecord) bool {
		ok, c, err := e.totp.VerifyBase32(fc.user.OtpSecret, strings.TrimSpace(mfaCode), now)
		if err != nil || !ok {
			return false
		}
		if e.config.TOTP.EnforceReplayProtection && fc.user.OtpVerified && c <= fc.user.OtpLastCounter {
			return false
		}
		counter = c
		return true
	})
	if err != nil {
		return nil, e.mfaVerifyErr(ctx, fc, MfaOtp, kv.OtpMfaCodeKey, err)
	}

	verified := true
	user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{OtpVerified: &verified, OtpLastCounter: &counter})
	if err != nil {
		return nil, err
	}
	fc.user = user
	return e.afterMfa(ctx, fc, MfaOtp, e.otpCodes, remember)
}

/*
====================================
EMAIL
====================================
*/

// SendEmailMfa sends a fresh code to the user's email. Sends are limited
// per auth code.
func (e *Engine) SendEmailMfa(ctx context.Context, code string) error {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaEmail); err != nil {
		return err
	}
	if e.email == nil {
		return ErrEmailNotConfigured
	}
	if fc.user.Email == "" {
		return ErrInvalidRequest
	}
	if err := e.checkSendLimit(ctx, fc, e.emailSendGuard, ErrEmailSendLimited); err != nil {
		return err
	}

	otp, err := e.issueMfaCode(ctx, fc, e.emailCodes)
	if err != nil {
		return err
	}
	msg := notify.MfaCodeEmail(fc.rec.User.Locale, otp, ttlMinutes(e.config.Mfa.CodeTTL))
	if err := e.email.SendEmail(ctx, fc.user.Email, msg.Subject, msg.Body); err != nil {
		return backendError(err)
	}
	e.mfaCodeSent(ctx, fc, MfaEmail)
	return nil
}

// VerifyEmailMfa checks an email code and marks the email as verified.
func (e *Engine) VerifyEmailMfa(ctx context.Context, code, mfaCode string, remember bool) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaEmail); err != nil {
		return nil, err
	}
	if err := e.emailCodes.Verify(ctx, code, strings.TrimSpace(mfaCode), e.config.Mfa.EmailAttemptThreshold); err != nil {
		return nil, e.mfaVerifyErr(ctx, fc, MfaEmail, kv.EmailMfaCodeKey, err)
	}
	if !fc.user.EmailVerified {
		verified := true
		user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{EmailVerified: &verified})
		if err != nil {
			return nil, err
		}
		fc.user = user
	}
	return e.afterMfa(ctx, fc, MfaEmail, e.emailCodes, remember)
}

/*
====================================
SMS
====================================
*/

// SmsMfaInfo tells the SMS page whether a phone number must be set up first.
func (e *Engine) SmsMfaInfo(ctx context.Context, code string) (*SmsMfaInfo, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaSms); err != nil {
		return nil, err
	}
	if fc.user.SmsPhone == "" || !fc.user.SmsPhoneVerified {
		return &SmsMfaInfo{SetupRequired: true}, nil
	}
	return &SmsMfaInfo{MaskedPhone: maskPhone(fc.user.SmsPhone)}, nil
}

// SetupSmsMfa stores an unverified phone number and sends the first code to
// it. A verified number can only be replaced through the reset_mfa policy.
func (e *Engine) SetupSmsMfa(ctx context.Context, code, phone string) error {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaSms); err != nil {
		return err
	}
	if e.sms == nil {
		return ErrSmsNotConfigured
	}
	if fc.user.SmsPhoneVerified && fc.user.SmsPhone != "" {
		return ErrWrongStep
	}
	phone = strings.TrimSpace(phone)
	if !e164.MatchString(phone) {
		return ErrWrongPhoneNumber
	}

	unverified := false
	user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{SmsPhone: &phone, SmsPhoneVerified: &unverified})
	if err != nil {
		return err
	}
	fc.user = user
	return e.sendSms(ctx, fc)
}

// SendSmsMfa sends a code to the stored phone number.
func (e *Engine) SendSmsMfa(ctx context.Context, code string) error {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaSms); err != nil {
		return err
	}
	if e.sms == nil {
		return ErrSmsNotConfigured
	}
	if fc.user.SmsPhone == "" {
		return ErrSmsNotSetUp
	}
	return e.sendSms(ctx, fc)
}

func (e *Engine) sendSms(ctx context.Context, fc *flowContext) error {
	if err := e.checkSendLimit(ctx, fc, e.smsSendGuard, ErrSmsSendLimited); err != nil {
		return err
	}
	otp, err := e.issueMfaCode(ctx, fc, e.smsCodes)
	if err != nil {
		return err
	}
	body := notify.MfaCodeSMS(fc.rec.User.Locale, otp, ttlMinutes(e.config.Mfa.CodeTTL))
	if err := e.sms.SendSMS(ctx, fc.user.SmsPhone, body); err != nil {
		return backendError(err)
	}
	e.mfaCodeSent(ctx, fc, MfaSms)
	return nil
}

// VerifySmsMfa checks an SMS code. The send limit does not apply here, so a
// code already sent stays usable after the limit is reached.
func (e *Engine) VerifySmsMfa(ctx context.Context, code, mfaCode string, remember bool) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseMfaPending, MfaSms); err != nil {
		return nil, err
	}
	if fc.user.SmsPhone == "" {
		return nil, ErrSmsNotSetUp
	}
	if err := e.smsCodes.Verify(ctx, code, strings.TrimSpace(mfaCode), e.config.Mfa.SmsAttemptThreshold); err != nil {
		return nil, e.mfaVerifyErr(ctx, fc, MfaSms, kv.SmsMfaCodeKey, err)
	}
	if !fc.user.SmsPhoneVerified {
		verified := true
		user, err := e.updateUser(ctx, fc.user.ID, UserUpdate{SmsPhoneVerified: &verified})
		if err != nil {
			return nil, err
		}
		fc.user = user
	}
	return e.afterMfa(ctx, fc, MfaSms, e.smsCodes, remember)
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

/*
====================================
SHARED
====================================
*/

func (e *Engine) checkSendLimit(ctx context.Context, fc *flowContext, guard *limiters.Guard, limited *Error) error {
	decision, err := guard.CheckAndIncrement(ctx, fc.code)
	if err != nil {
		return backendError(err)
	}
	if !decision.Allowed {
		e.metricInc(MetricMfaSendLimited)
		e.emitAudit(ctx, auditEventMfaSendLimited, false, fc.user.AuthID, fc.rec.App.ClientID, limited, nil)
		return lockout(limited, decision.RetryAfter)
	}
	return nil
}

func (e *Engine) issueMfaCode(ctx context.Context, fc *flowContext, codes *stores.MfaCodeStore) (string, error) {
	otp, err := internal.NewOTP(e.config.Mfa.CodeDigits)
	if err != nil {
		return "", ErrInternal
	}
	if err := codes.Issue(ctx, fc.code, otp, e.config.Mfa.CodeTTL); err != nil {
		if errors.Is(err, stores.ErrMfaCodeLocked) {
			return "", ErrMfaLocked
		}
		return "", backendError(err)
	}
	return otp, nil
}

func (e *Engine) mfaCodeSent(ctx context.Context, fc *flowContext, channel MfaChannel) {
	e.metricInc(MetricMfaCodeSent)
	e.emitAudit(ctx, auditEventMfaCodeSent, true, fc.user.AuthID, fc.rec.App.ClientID, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})
}

func (e *Engine) mfaVerifyErr(ctx context.Context, fc *flowContext, channel MfaChannel, namespace string, err error) error {
	meta := func() map[string]string {
		return map[string]string{"channel": string(channel)}
	}
	switch {
	case errors.Is(err, stores.ErrMfaCodeNotFound):
		return ErrMfaCodeExpired
	case errors.Is(err, stores.ErrMfaCodeMismatch):
		e.metricInc(MetricMfaFailure)
		e.emitAudit(ctx, auditEventMfaFailure, false, fc.user.AuthID, fc.rec.App.ClientID, ErrWrongMfaCode, meta)
		return ErrWrongMfaCode
	case errors.Is(err, stores.ErrMfaCodeLocked):
		e.metricInc(MetricMfaLocked)
		e.emitAudit(ctx, auditEventMfaLocked, false, fc.user.AuthID, fc.rec.App.ClientID, ErrMfaLocked, meta)
		retry, ttlErr := e.kv.TTL(ctx, namespace+fc.code)
		if ttlErr != nil {
			retry = 0
		}
		return lockout(ErrMfaLocked, retry)
	default:
		return backendError(err)
	}
}

// afterMfa advances the flow past a verified channel. Once every MFA step is
// done it grants the session, the remember-device cookie and, after a first
// enrollment, a fresh set of recovery codes.
func (e *Engine) afterMfa(ctx context.Context, fc *flowContext, channel MfaChannel, codes *stores.MfaCodeStore, remember bool) (*StepResult, error) {
	enrolled := fc.rec.Flow.Enrolled
	ev := flows.MfaVerified(channel)
	res, err := e.commit(ctx, fc, &ev)
	if err != nil {
		return nil, err
	}
	if err := codes.Delete(ctx, fc.code); err != nil {
		e.logger.Warn("failed to delete mfa code", zap.String("channel", string(channel)), zap.Error(err))
	}

	e.metricInc(MetricMfaVerified)
	e.emitAudit(ctx, auditEventMfaVerified, true, fc.user.AuthID, fc.rec.App.ClientID, nil, func() map[string]string {
		return map[string]string{"channel": string(channel)}
	})

	if !fc.rec.Flow.MfaSatisfied() {
		return res, nil
	}
	res.Session = e.sessionGrant(fc.rec)
	if remember && e.config.Mfa.RememberDeviceDays > 0 {
		res.RememberDevice = fc.user.AuthID
	}
	if enrolled && e.config.Mfa.RecoveryCodes && e.recovery != nil {
		codes, err := e.issueRecoveryCodes(ctx, fc.user, fc.rec.App.ClientID)
		if err != nil {
			return nil, err
		}
		res.RecoveryCodes = codes
	}
	return res, nil
}

func ttlMinutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
