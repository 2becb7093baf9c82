package flows

import "slices"

// MfaInput gathers everything the MFA decision depends on.
type MfaInput struct {
	// SystemRequired lists channels required by deployment configuration.
	SystemRequired []Channel
	// AppOverride replaces SystemRequired with AppRequired.
	AppOverride bool
	AppRequired []Channel
	// Enforce lists channels of which a user must enroll at least one.
	// OrgEnforce, when non-nil, replaces it.
	Enforce    []Channel
	OrgEnforce []Channel
	// UserEnrolled lists channels the user enrolled in; they are always required.
	UserEnrolled []Channel
}

// MfaDecision is the outcome of DecideMfa.
type MfaDecision struct {
	Required      bool
	Types         []Channel
	EnforceOneOf  bool
	EnrollChoices []Channel
}

// DecideMfa decides which second factors a sign in needs. Waivers such as
// a remembered device are flow state, see Initial.
func DecideMfa(in MfaInput) MfaDecision {
	required := in.SystemRequired
	if in.AppOverride {
		required = in.AppRequired
	}

	var types []Channel
	for _, c := range channelOrder {
		if slices.Contains(required, c) || slices.Contains(in.UserEnrolled, c) {
			types = append(types, c)
		}
	}

	enforce := in.Enforce
	if in.OrgEnforce != nil {
		enforce = in.OrgEnforce
	}
	enforce = orderChannels(enforce)

	decision := MfaDecision{Types: types}
	if len(types) == 0 && len(enforce) > 0 {
		decision.EnforceOneOf = true
		decision.EnrollChoices = enforce
	}
	decision.Required = len(decision.Types) > 0 || decision.EnforceOneOf
	return decision
}

// Requirements converts the decision into flow requirements.
func (d MfaDecision) Requirements() Requirements {
	if !d.Required {
		return Requirements{}
	}
	return Requirements{
		EnrollRequired: d.EnforceOneOf,
		EnrollChoices:  slices.Clone(d.EnrollChoices),
		Channels:       slices.Clone(d.Types),
	}
}
