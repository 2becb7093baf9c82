package flows

import "slices"

// Channel is an MFA channel usable as a second factor.
type Channel string

const (
	ChannelOtp   Channel = "otp"
	ChannelSms   Channel = "sms"
	ChannelEmail Channel = "email"
)

// channelOrder is the order in which required channels are presented.
var channelOrder = []Channel{ChannelOtp, ChannelSms, ChannelEmail}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return slices.Contains(channelOrder, c)
}

// Policy selects a dedicated account sub-flow instead of a plain sign in.
type Policy string

const (
	PolicyNone           Policy = ""
	PolicyChangePassword Policy = "change_password"
	PolicyChangeEmail    Policy = "change_email"
	PolicyResetMfa       Policy = "reset_mfa"
	PolicySwitchOrg      Policy = "switch_org"
)

// Valid reports whether p is a known policy (PolicyNone included).
func (p Policy) Valid() bool {
	switch p {
	case PolicyNone, PolicyChangePassword, PolicyChangeEmail, PolicyResetMfa, PolicySwitchOrg:
		return true
	}
	return false
}

// IssuesCode reports whether completing the policy yields an exchangeable
// code. Every other policy ends the flow without one.
func (p Policy) IssuesCode() bool {
	return p == PolicyNone || p == PolicySwitchOrg
}

// Phase is the tag of the flow state.
type Phase string

const (
	PhaseCredentialVerified Phase = "credential_verified"
	PhaseMfaEnroll          Phase = "mfa_enroll"
	PhaseMfaPending         Phase = "mfa_pending"
	PhasePasskeyEnroll      Phase = "passkey_enroll"
	PhaseConsentPending     Phase = "consent_pending"
	PhasePolicyPending      Phase = "policy_pending"
	PhaseReady              Phase = "ready"
)

// State is the position of one authorization flow. It is stored with the
// auth code record and only ever changed through Apply and Resolve.
type State struct {
	Phase   Phase   `json:"phase"`
	Channel Channel `json:"channel,omitempty"`
	Policy  Policy  `json:"policy,omitempty"`

	Verified       []Channel `json:"verified,omitempty"`
	Enrolled       bool      `json:"enrolled,omitempty"`
	MfaWaived      bool      `json:"mfaWaived,omitempty"`
	PasskeyDone    bool      `json:"passkeyDone,omitempty"`
	ConsentGranted bool      `json:"consentGranted,omitempty"`
	PolicyDone     bool      `json:"policyDone,omitempty"`
}

// Initial returns the state right after primary credentials verified.
// waiveMfa is set by credentials that already prove a second factor
// (passkey, recovery code), by the SSO session shortcut and by a remembered
// device.
func Initial(waiveMfa bool) State {
	return State{Phase: PhaseCredentialVerified, MfaWaived: waiveMfa}
}

// Ready reports whether the code may be exchanged for tokens.
func (s State) Ready() bool {
	return s.Phase == PhaseReady
}

// HasVerified reports whether channel c was verified during this flow.
func (s State) HasVerified(c Channel) bool {
	return slices.Contains(s.Verified, c)
}

// MfaSatisfied reports whether no MFA step is outstanding.
func (s State) MfaSatisfied() bool {
	switch s.Phase {
	case PhaseCredentialVerified, PhaseMfaEnroll, PhaseMfaPending:
		return false
	}
	return true
}

func (s State) clone() State {
	out := s
	out.Verified = slices.Clone(s.Verified)
	return out
}

// Requirements describe what the live user, app and configuration demand of
// the flow. They are recomputed on every step.
type Requirements struct {
	EnrollRequired     bool
	EnrollChoices      []Channel
	Channels           []Channel
	OfferPasskeyEnroll bool
	ConsentRequired    bool
	Policy             Policy
}
