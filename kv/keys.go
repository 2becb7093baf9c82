package kv

// Key namespaces. Every key is "<namespace><subject>" under the optional store prefix.
const (
	AuthCodeKey              = "AC-"
	EmailMfaCodeKey          = "EmailMfaCode-"
	SmsMfaCodeKey            = "SmsMfaCode-"
	OtpMfaCodeKey            = "OtpMfaCode-"
	RefreshTokenKey          = "RefreshToken-"
	FailedLoginAttemptsKey   = "FailedLoginAttempts-"
	PasswordResetAttemptsKey = "PasswordResetAttempts-"
	SmsMfaMessageAttemptsKey = "SmsMfaMessageAttempts-"
	EmailMfaEmailAttemptsKey = "EmailMfaEmailAttempts-"
	ChangeEmailAttemptsKey   = "ChangeEmailAttempts-"
	PasswordResetCodeKey     = "PasswordResetCode-"
	EmailVerificationCodeKey = "EmailVerificationCode-"
	ChangeEmailCodeKey       = "ChangeEmailCode-"
	PasskeyEnrollKey         = "PasskeyEnrollChallenge-"
	PasskeyVerifyKey         = "PasskeyVerifyChallenge-"
	SigningKeyKey            = "JwtSigningKey"
	DeprecatedSigningKeyKey  = "JwtDeprecatedSigningKey"
)
