package goIdP

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/MrEthical07/goIdP/internal"
)

func otpCodeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generate totp: %v", err)
	}
	return code
}

func TestOtpSignInEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireOtp = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid profile offline_access")
	if res.Ready || res.NextPage != PageOtpSetup {
		t.Fatalf("expected otp setup page, got %+v", res)
	}

	setup, err := env.engine.OtpSetup(ctx, res.Code)
	if err != nil {
		t.Fatalf("OtpSetup: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.URI, "otpauth://totp/") || !strings.HasPrefix(setup.QRCode, "data:image/png;base64,") {
		t.Fatalf("unexpected setup: %+v", setup)
	}
	again, err := env.engine.OtpSetup(ctx, res.Code)
	if err != nil {
		t.Fatalf("second OtpSetup: %v", err)
	}
	if again.Secret != setup.Secret {
		t.Fatal("expected the unverified secret to be reused")
	}

	res, err = env.engine.VerifyOtpMfa(ctx, res.Code, otpCodeAt(t, setup.Secret, env.now), false)
	if err != nil {
		t.Fatalf("VerifyOtpMfa: %v", err)
	}
	if !res.Ready {
		t.Fatalf("expected ready code, got %+v", res)
	}
	if u := env.repo.user(env.user.ID); !u.OtpVerified || u.OtpLastCounter < 0 {
		t.Fatalf("expected verified otp, got %+v", u)
	}

	tokens := env.exchange(t, res.Code)
	if tokens.AccessToken == "" || tokens.IDToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("expected access, id and refresh tokens, got %+v", tokens)
	}
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn != 1800 {
		t.Fatalf("unexpected token metadata: %+v", tokens)
	}

	refreshed, err := env.engine.Refresh(ctx, tokens.RefreshToken, testClientID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.RefreshToken != "" || refreshed.IDToken != "" {
		t.Fatalf("expected access token only, got %+v", refreshed)
	}
	if _, err := env.engine.Refresh(ctx, tokens.RefreshToken, testClientID); err != nil {
		t.Fatalf("refresh token should stay valid: %v", err)
	}
}

func TestOtpReplayRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireOtp = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	setup, err := env.engine.OtpSetup(ctx, res.Code)
	if err != nil {
		t.Fatalf("OtpSetup: %v", err)
	}
	code := otpCodeAt(t, setup.Secret, env.now)
	if _, err := env.engine.VerifyOtpMfa(ctx, res.Code, code, false); err != nil {
		t.Fatalf("VerifyOtpMfa: %v", err)
	}

	second := env.signIn(t, "openid")
	if second.NextPage != PageOtpMfa {
		t.Fatalf("expected otp page for a verified app, got %q", second.NextPage)
	}
	if _, err := env.engine.VerifyOtpMfa(ctx, second.Code, code, false); !errors.Is(err, ErrWrongMfaCode) {
		t.Fatalf("expected replayed code to fail, got %v", err)
	}

	env.now = env.now.Add(30 * time.Second)
	res, err = env.engine.VerifyOtpMfa(ctx, second.Code, otpCodeAt(t, setup.Secret, env.now), false)
	if err != nil {
		t.Fatalf("VerifyOtpMfa next period: %v", err)
	}
	if !res.Ready {
		t.Fatalf("expected ready code, got %+v", res)
	}
}

func TestOtpVerifyWithoutSetup(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireOtp = true
	env := newTestEnv(t, cfg)

	res := env.signIn(t, "openid")
	if _, err := env.engine.VerifyOtpMfa(context.Background(), res.Code, "123456", false); !errors.Is(err, ErrOtpNotSetUp) {
		t.Fatalf("expected ErrOtpNotSetUp, got %v", err)
	}
}

func TestEmailMfaLocksAtThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	cfg.Mfa.EmailAttemptThreshold = 3
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if res.NextPage != PageEmailMfa {
		t.Fatalf("expected email mfa page, got %+v", res)
	}
	if _, err := env.engine.VerifyEmailMfa(ctx, res.Code, "000000", false); !errors.Is(err, ErrMfaCodeExpired) {
		t.Fatalf("expected ErrMfaCodeExpired before any send, got %v", err)
	}
	if err := env.engine.SendEmailMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendEmailMfa: %v", err)
	}
	good := env.email.lastCode(t, testEmail)
	wrong := "999999"
	if good == wrong {
		wrong = "888888"
	}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.VerifyEmailMfa(ctx, res.Code, wrong, false); !errors.Is(err, ErrWrongMfaCode) {
			t.Fatalf("attempt %d: expected ErrWrongMfaCode, got %v", i+1, err)
		}
	}
	_, err := env.engine.VerifyEmailMfa(ctx, res.Code, good, false)
	if !errors.Is(err, ErrMfaLocked) {
		t.Fatalf("expected ErrMfaLocked after threshold, got %v", err)
	}
	if AsError(err).RetryAfter <= 0 {
		t.Fatalf("expected retry window on lock, got %+v", AsError(err))
	}
	if err := env.engine.SendEmailMfa(ctx, res.Code); !errors.Is(err, ErrMfaLocked) {
		t.Fatalf("expected resend to stay locked, got %v", err)
	}
}

func TestEmailMfaMarksEmailVerified(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	env.repo.setUser(env.user.ID, func(u *User) { u.EmailVerified = false })

	res := env.signIn(t, "openid")
	if err := env.engine.SendEmailMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendEmailMfa: %v", err)
	}
	res, err := env.engine.VerifyEmailMfa(ctx, res.Code, env.email.lastCode(t, testEmail), false)
	if err != nil {
		t.Fatalf("VerifyEmailMfa: %v", err)
	}
	if !res.Ready {
		t.Fatalf("expected ready code, got %+v", res)
	}
	if !env.repo.user(env.user.ID).EmailVerified {
		t.Fatal("expected email to be marked verified")
	}
}

func TestSmsSetupSendLimitAndVerify(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireSms = true
	cfg.Mfa.SmsSendThreshold = 2
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	const phone = "+15551234567"

	res := env.signIn(t, "openid")
	if res.NextPage != PageSmsSetup {
		t.Fatalf("expected sms setup page, got %+v", res)
	}
	info, err := env.engine.SmsMfaInfo(ctx, res.Code)
	if err != nil || !info.SetupRequired {
		t.Fatalf("expected setup required, got %+v, %v", info, err)
	}
	if err := env.engine.SendSmsMfa(ctx, res.Code); !errors.Is(err, ErrSmsNotSetUp) {
		t.Fatalf("expected ErrSmsNotSetUp, got %v", err)
	}
	if err := env.engine.SetupSmsMfa(ctx, res.Code, "555-1234"); !errors.Is(err, ErrWrongPhoneNumber) {
		t.Fatalf("expected ErrWrongPhoneNumber, got %v", err)
	}

	if err := env.engine.SetupSmsMfa(ctx, res.Code, phone); err != nil {
		t.Fatalf("SetupSmsMfa: %v", err)
	}
	if err := env.engine.SendSmsMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendSmsMfa: %v", err)
	}
	if err := env.engine.SendSmsMfa(ctx, res.Code); !errors.Is(err, ErrSmsSendLimited) {
		t.Fatalf("expected ErrSmsSendLimited, got %v", err)
	}
	if env.sms.count() != 2 {
		t.Fatalf("expected 2 messages, got %d", env.sms.count())
	}

	res, err = env.engine.VerifySmsMfa(ctx, res.Code, env.sms.lastCode(t, phone), false)
	if err != nil {
		t.Fatalf("VerifySmsMfa after send limit: %v", err)
	}
	if !res.Ready {
		t.Fatalf("expected ready code, got %+v", res)
	}
	if u := env.repo.user(env.user.ID); !u.SmsPhoneVerified || u.SmsPhone != phone {
		t.Fatalf("expected verified phone, got %+v", u)
	}

	next := env.signIn(t, "openid")
	if next.NextPage != PageSmsMfa {
		t.Fatalf("expected sms page for a verified phone, got %q", next.NextPage)
	}
	info, err = env.engine.SmsMfaInfo(ctx, next.Code)
	if err != nil || info.SetupRequired || info.MaskedPhone != "********4567" {
		t.Fatalf("unexpected sms info %+v, %v", info, err)
	}
	if err := env.engine.SetupSmsMfa(ctx, next.Code, "+15559999999"); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("expected verified phone to be fixed, got %v", err)
	}
}

func TestSmsSendThresholdZeroNeverLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireSms = true
	cfg.Mfa.SmsSendThreshold = 0
	env := newTestEnv(t, cfg)
	ctx := context.Background()
	env.repo.setUser(env.user.ID, func(u *User) {
		u.SmsPhone = "+15551234567"
		u.SmsPhoneVerified = true
	})

	res := env.signIn(t, "openid")
	for i := 0; i < 10; i++ {
		if err := env.engine.SendSmsMfa(ctx, res.Code); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}
}

func TestMfaEnrollmentIssuesRecoveryCodes(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.Enforce = []MfaChannel{MfaEmail, MfaOtp}
	cfg.Mfa.RecoveryCodes = true
	cfg.Mfa.RecoveryCodeCount = 8
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if res.NextPage != PageMfaEnroll {
		t.Fatalf("expected enroll page, got %+v", res)
	}
	if !slices.Equal(res.MfaTypes, []MfaChannel{MfaOtp, MfaEmail}) {
		t.Fatalf("expected ordered enroll choices, got %v", res.MfaTypes)
	}
	if _, err := env.engine.MfaEnroll(ctx, res.Code, MfaSms); !errors.Is(err, ErrWrongMfaType) {
		t.Fatalf("expected ErrWrongMfaType, got %v", err)
	}
	if err := env.engine.SendEmailMfa(ctx, res.Code); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("expected email send before enrollment to be a wrong step, got %v", err)
	}

	res, err := env.engine.MfaEnroll(ctx, res.Code, MfaEmail)
	if err != nil {
		t.Fatalf("MfaEnroll: %v", err)
	}
	if res.NextPage != PageEmailMfa {
		t.Fatalf("expected email page after enrollment, got %+v", res)
	}
	if err := env.engine.SendEmailMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendEmailMfa: %v", err)
	}
	res, err = env.engine.VerifyEmailMfa(ctx, res.Code, env.email.lastCode(t, testEmail), false)
	if err != nil {
		t.Fatalf("VerifyEmailMfa: %v", err)
	}
	if !res.Ready || len(res.RecoveryCodes) != 8 {
		t.Fatalf("expected ready code with 8 recovery codes, got %+v", res)
	}

	// A later sign in asks for the enrolled channel and issues no new codes.
	next := env.signIn(t, "openid")
	if next.NextPage != PageEmailMfa {
		t.Fatalf("expected email page, got %+v", next)
	}

	req := authorizeRequest("openid")
	rc, err := env.engine.AuthorizeRecoveryCode(ctx, req, testEmail, testPassword, strings.ToUpper(res.RecoveryCodes[0]))
	if err != nil {
		t.Fatalf("AuthorizeRecoveryCode: %v", err)
	}
	if !rc.Ready {
		t.Fatalf("expected recovery code to satisfy mfa, got %+v", rc)
	}
	if _, err := env.engine.AuthorizeRecoveryCode(ctx, req, testEmail, testPassword, res.RecoveryCodes[0]); !errors.Is(err, ErrWrongRecoveryCode) {
		t.Fatalf("expected used recovery code to fail, got %v", err)
	}
	if _, err := env.engine.AuthorizeRecoveryCode(ctx, req, testEmail, "Wrong-Password-1", res.RecoveryCodes[1]); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected password to be required, got %v", err)
	}
}

func TestRecoveryCodesDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig())

	_, err := env.engine.AuthorizeRecoveryCode(context.Background(), authorizeRequest("openid"), testEmail, testPassword, "ABCD-EFGH")
	if !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected ErrFeatureDisabled, got %v", err)
	}
}

func TestRecoveryCodeHashing(t *testing.T) {
	if internal.HashValue(internal.NormalizeRecoveryCode("abcd-efgh")) != internal.HashValue(internal.NormalizeRecoveryCode("ABCDEFGH")) {
		t.Fatal("expected separators and case to be ignored")
	}
}

func TestRememberedDeviceSkipsMfa(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	cfg.Mfa.RememberDeviceDays = 30
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if err := env.engine.SendEmailMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendEmailMfa: %v", err)
	}
	res, err := env.engine.VerifyEmailMfa(ctx, res.Code, env.email.lastCode(t, testEmail), true)
	if err != nil {
		t.Fatalf("VerifyEmailMfa: %v", err)
	}
	if res.RememberDevice != env.user.AuthID {
		t.Fatalf("expected remember-device grant, got %q", res.RememberDevice)
	}

	remembered := WithRememberedDevices(ctx, []string{env.user.AuthID})
	next, err := env.engine.AuthorizePassword(remembered, authorizeRequest("openid"), testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizePassword: %v", err)
	}
	if !next.Ready {
		t.Fatalf("expected remembered device to skip mfa, got %+v", next)
	}

	other := WithRememberedDevices(ctx, []string{"auth-someone-else"})
	next, err = env.engine.AuthorizePassword(other, authorizeRequest("openid"), testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizePassword: %v", err)
	}
	if next.NextPage != PageEmailMfa {
		t.Fatalf("expected mfa for another user's grant, got %+v", next)
	}
}

func TestRememberDeviceDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if err := env.engine.SendEmailMfa(ctx, res.Code); err != nil {
		t.Fatalf("SendEmailMfa: %v", err)
	}
	res, err := env.engine.VerifyEmailMfa(ctx, res.Code, env.email.lastCode(t, testEmail), true)
	if err != nil {
		t.Fatalf("VerifyEmailMfa: %v", err)
	}
	if res.RememberDevice != "" {
		t.Fatalf("expected no grant with RememberDeviceDays 0, got %q", res.RememberDevice)
	}
}

func TestMfaStepsRejectWrongPhase(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	res := env.signIn(t, "openid")
	if _, err := env.engine.VerifySmsMfa(ctx, res.Code, "123456", false); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("expected ErrWrongStep for sms, got %v", err)
	}
	if _, err := env.engine.OtpSetup(ctx, res.Code); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("expected ErrWrongStep for otp setup, got %v", err)
	}
	if _, err := env.engine.Consent(ctx, res.Code); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("expected ErrWrongStep for consent, got %v", err)
	}
	if _, err := env.engine.VerifyEmailMfa(ctx, "missing-code", "123456", false); !errors.Is(err, ErrWrongCode) {
		t.Fatalf("expected ErrWrongCode, got %v", err)
	}
}

func TestMfaSendersRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Mfa.RequireEmail = true
	env := newTestEnv(t, cfg)
	env.engine.email = nil

	res := env.signIn(t, "openid")
	if err := env.engine.SendEmailMfa(context.Background(), res.Code); !errors.Is(err, ErrEmailNotConfigured) {
		t.Fatalf("expected ErrEmailNotConfigured, got %v", err)
	}
}
