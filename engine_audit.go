package goIdP

import (
	"context"
	"time"
)

const (
	auditEventAuthorize             = "authorize"
	auditEventSessionShortcut       = "session_shortcut"
	auditEventPasswordSuccess       = "password_success"
	auditEventPasswordFailure       = "password_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventSignUp                = "sign_up"
	auditEventSocialSignIn          = "social_sign_in"
	auditEventPasskeySignIn         = "passkey_sign_in"
	auditEventPasskeyEnrolled       = "passkey_enrolled"
	auditEventRecoveryCodeUsed      = "recovery_code_used"
	auditEventRecoveryCodesIssued   = "recovery_codes_issued"
	auditEventMfaEnrolled           = "mfa_enrolled"
	auditEventMfaCodeSent           = "mfa_code_sent"
	auditEventMfaSendLimited        = "mfa_send_limited"
	auditEventMfaVerified           = "mfa_verified"
	auditEventMfaFailure            = "mfa_failure"
	auditEventMfaLocked             = "mfa_locked"
	auditEventConsentGranted        = "consent_granted"
	auditEventPasswordChanged       = "password_changed"
	auditEventEmailChanged          = "email_changed"
	auditEventMfaReset              = "mfa_reset"
	auditEventOrgSwitched           = "org_switched"
	auditEventCodeExchange          = "code_exchange"
	auditEventRefresh               = "refresh"
	auditEventClientCredentials     = "client_credentials"
	auditEventRevoke                = "revoke"
	auditEventLogout                = "logout"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventEmailVerificationSent = "email_verification_sent"
	auditEventEmailVerified         = "email_verified"
	auditEventSigningKeyRotated     = "signing_key_rotated"
)

// emitAudit sends an event to the dispatcher. The error field carries the
// stable error code only, never the message or request values.
func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	authID string,
	clientID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AuthID:    authID,
		ClientID:  clientID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = AsError(err).Code
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeLatency(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}
