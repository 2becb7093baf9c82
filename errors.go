package goIdP

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies engine errors for the HTTP boundary.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota + 1
	KindNotFound
	KindState
	KindLockout
	KindClientAuth
	KindConfig
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	case KindLockout:
		return "lockout"
	case KindClientAuth:
		return "client_auth"
	case KindConfig:
		return "config"
	default:
		return "internal"
	}
}

// Error is returned by every engine operation. Two errors match with
// errors.Is when their codes are equal, so sentinels stay comparable after
// being copied with a retry window or wrapped with fmt.Errorf.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	// RetryAfter is set on lockout errors.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(kind ErrorKind, status int, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Status: status}
}

// lockout copies a lockout sentinel with an actionable message.
func lockout(base *Error, retryAfter time.Duration) *Error {
	out := *base
	out.RetryAfter = retryAfter
	if retryAfter > 0 {
		minutes := int((retryAfter + time.Minute - 1) / time.Minute)
		unit := "minutes"
		if minutes == 1 {
			unit = "minute"
		}
		out.Message = fmt.Sprintf("%s, try again in %d %s", base.Message, minutes, unit)
	}
	return &out
}

// backendError wraps an infrastructure failure.
func backendError(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// AsError extracts the engine error from err. Unknown errors map to an
// internal error so callers never leak raw backend messages.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

var (
	// Validation
	ErrInvalidRequest           = newError(KindValidation, http.StatusBadRequest, "invalid_request", "invalid request")
	ErrWrongRedirectURI         = newError(KindValidation, http.StatusBadRequest, "wrong_redirect_uri", "redirect uri is not allowed for this app")
	ErrWrongResponseType        = newError(KindValidation, http.StatusBadRequest, "unsupported_response_type", "only response_type=code is supported")
	ErrMissingCodeChallenge     = newError(KindValidation, http.StatusBadRequest, "missing_code_challenge", "code_challenge is required")
	ErrWrongCodeChallengeMethod = newError(KindValidation, http.StatusBadRequest, "wrong_code_challenge_method", "code_challenge_method must be S256 or plain")
	ErrWrongScope               = newError(KindValidation, http.StatusBadRequest, "invalid_scope", "requested scope is not granted to this app")
	ErrWrongPolicy              = newError(KindValidation, http.StatusBadRequest, "wrong_policy", "unknown or disabled policy")
	ErrWrongAppType             = newError(KindValidation, http.StatusBadRequest, "wrong_app_type", "app type does not support this grant")
	ErrAppDisabled              = newError(KindValidation, http.StatusBadRequest, "app_disabled", "app is disabled")
	ErrOrgDisabled              = newError(KindValidation, http.StatusBadRequest, "org_disabled", "org is disabled")
	ErrWrongMfaType             = newError(KindValidation, http.StatusBadRequest, "wrong_mfa_type", "mfa type is not allowed")
	ErrUnsupportedGrantType     = newError(KindValidation, http.StatusBadRequest, "unsupported_grant_type", "unsupported grant_type")
	ErrUnsupportedTokenType     = newError(KindValidation, http.StatusBadRequest, "unsupported_token_type", "only refresh tokens can be revoked")
	ErrWrongLogoutRedirect      = newError(KindValidation, http.StatusBadRequest, "wrong_post_logout_redirect_uri", "post logout redirect uri is not allowed for this app")
	ErrPasswordPolicy           = newError(KindValidation, http.StatusBadRequest, "password_policy", "password does not meet policy")
	ErrPasswordReuse            = newError(KindValidation, http.StatusBadRequest, "password_reuse", "new password must be different from current password")
	ErrEmailTaken               = newError(KindValidation, http.StatusBadRequest, "email_taken", "email is already in use")
	ErrSignUpDisabled           = newError(KindValidation, http.StatusBadRequest, "sign_up_disabled", "sign up is disabled")
	ErrWrongPhoneNumber         = newError(KindValidation, http.StatusBadRequest, "wrong_phone_number", "phone number is invalid")
	ErrOrgNotMember             = newError(KindValidation, http.StatusBadRequest, "org_not_member", "user does not belong to org")

	// NotFound
	ErrUserNotFound    = newError(KindNotFound, http.StatusNotFound, "no_user", "no user found")
	ErrAppNotFound     = newError(KindNotFound, http.StatusNotFound, "no_app", "no app found")
	ErrOrgNotFound     = newError(KindNotFound, http.StatusNotFound, "no_org", "no org found")
	ErrPasskeyNotFound = newError(KindNotFound, http.StatusNotFound, "no_passkey", "no passkey found")

	// State
	ErrWrongCode             = newError(KindState, http.StatusBadRequest, "wrong_code", "wrong or expired auth code")
	ErrWrongCodeVerifier     = newError(KindState, http.StatusBadRequest, "wrong_code_verifier", "code_verifier does not match code_challenge")
	ErrMfaNotSatisfied       = newError(KindState, http.StatusUnauthorized, "mfa_not_satisfied", "authorization steps are not complete")
	ErrWrongStep             = newError(KindState, http.StatusBadRequest, "wrong_step", "step does not match the authorization flow")
	ErrWrongMfaCode          = newError(KindState, http.StatusBadRequest, "wrong_mfa_code", "wrong mfa code")
	ErrMfaCodeExpired        = newError(KindState, http.StatusBadRequest, "mfa_code_expired", "mfa code expired, request a new one")
	ErrWrongRefreshToken     = newError(KindState, http.StatusBadRequest, "wrong_refresh_token", "wrong or expired refresh token")
	ErrUserDisabled          = newError(KindState, http.StatusBadRequest, "user_disabled", "user is disabled")
	ErrWrongRecoveryCode     = newError(KindState, http.StatusBadRequest, "wrong_recovery_code", "wrong recovery code")
	ErrWrongPasskey          = newError(KindState, http.StatusBadRequest, "wrong_passkey", "passkey verification failed")
	ErrWrongVerificationCode = newError(KindState, http.StatusBadRequest, "wrong_verification_code", "wrong or expired verification code")
	ErrWrongSocialCredential = newError(KindState, http.StatusBadRequest, "wrong_social_credential", "social sign in failed")
	ErrInvalidAccessToken    = newError(KindState, http.StatusUnauthorized, "invalid_token", "invalid access token")
	ErrOtpNotSetUp           = newError(KindState, http.StatusBadRequest, "otp_not_set_up", "authenticator app is not set up")
	ErrSmsNotSetUp           = newError(KindState, http.StatusBadRequest, "sms_not_set_up", "phone number is not set up")

	// Lockout
	ErrAccountLocked        = newError(KindLockout, http.StatusBadRequest, "account_locked", "too many failed sign in attempts")
	ErrMfaLocked            = newError(KindLockout, http.StatusBadRequest, "mfa_locked", "too many wrong mfa codes")
	ErrSmsSendLimited       = newError(KindLockout, http.StatusBadRequest, "sms_send_limited", "too many sms messages sent")
	ErrEmailSendLimited     = newError(KindLockout, http.StatusBadRequest, "email_send_limited", "too many emails sent")
	ErrPasswordResetLimited = newError(KindLockout, http.StatusBadRequest, "password_reset_limited", "too many password reset requests")
	ErrChangeEmailLimited   = newError(KindLockout, http.StatusBadRequest, "change_email_limited", "too many change email requests")
	ErrVerificationAttempts = newError(KindLockout, http.StatusBadRequest, "verification_attempts", "too many wrong verification codes")

	// ClientAuth
	ErrInvalidClient      = newError(KindClientAuth, http.StatusUnauthorized, "invalid_client", "client authentication failed")
	ErrClientMismatch     = newError(KindClientAuth, http.StatusUnauthorized, "client_mismatch", "token was not issued to this client")
	ErrUnauthorizedClient = newError(KindClientAuth, http.StatusUnauthorized, "unauthorized_client", "client may not use this grant")

	// Config
	ErrSmsNotConfigured     = newError(KindConfig, http.StatusBadRequest, "sms_not_configured", "sms sender is not configured")
	ErrEmailNotConfigured   = newError(KindConfig, http.StatusBadRequest, "email_not_configured", "email sender is not configured")
	ErrSocialNotConfigured  = newError(KindConfig, http.StatusBadRequest, "social_not_configured", "social provider is not configured")
	ErrPasskeyNotConfigured = newError(KindConfig, http.StatusBadRequest, "passkey_not_configured", "passkeys are not configured")
	ErrFeatureDisabled      = newError(KindConfig, http.StatusBadRequest, "feature_disabled", "feature is disabled")

	// Internal
	ErrBackendUnavailable = newError(KindInternal, http.StatusServiceUnavailable, "backend_unavailable", "backend unavailable")
	ErrInternal           = newError(KindInternal, http.StatusInternalServerError, "internal_error", "internal error")
	ErrEngineNotReady     = newError(KindInternal, http.StatusInternalServerError, "engine_not_ready", "engine not initialized")
)
