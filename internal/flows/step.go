package flows

// UserFacts are the user flags that pick between setup and verify pages.
type UserFacts struct {
	OtpVerified      bool
	SmsPhoneVerified bool
}

// Page names returned to the sign-in UI.
const (
	PageMfaEnroll     = "mfa_enroll"
	PageOtpSetup      = "otp_setup"
	PageOtpMfa        = "otp_mfa"
	PageSmsSetup      = "sms_setup"
	PageSmsMfa        = "sms_mfa"
	PageEmailMfa      = "email_mfa"
	PagePasskeyEnroll = "passkey_enroll"
	PageConsent       = "consent"
)

// StepName returns the page the UI should render for s, or "" once the flow
// is ready.
func StepName(s State, facts UserFacts) string {
	switch s.Phase {
	case PhaseMfaEnroll:
		return PageMfaEnroll
	case PhaseMfaPending:
		switch s.Channel {
		case ChannelOtp:
			if facts.OtpVerified {
				return PageOtpMfa
			}
			return PageOtpSetup
		case ChannelSms:
			if facts.SmsPhoneVerified {
				return PageSmsMfa
			}
			return PageSmsSetup
		case ChannelEmail:
			return PageEmailMfa
		}
	case PhasePasskeyEnroll:
		return PagePasskeyEnroll
	case PhaseConsentPending:
		return PageConsent
	case PhasePolicyPending:
		return string(s.Policy)
	}
	return ""
}
