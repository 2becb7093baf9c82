package flows

import (
	"slices"
	"testing"
)

func TestDecideMfa(t *testing.T) {
	tests := []struct {
		name         string
		in           MfaInput
		required     bool
		types        []Channel
		enforceOneOf bool
	}{
		{
			name: "nothing configured",
			in:   MfaInput{},
		},
		{
			name:     "system requires email",
			in:       MfaInput{SystemRequired: []Channel{ChannelEmail}},
			required: true,
			types:    []Channel{ChannelEmail},
		},
		{
			name:     "enrolled channel always required",
			in:       MfaInput{UserEnrolled: []Channel{ChannelSms}},
			required: true,
			types:    []Channel{ChannelSms},
		},
		{
			name: "app override replaces system flags",
			in: MfaInput{
				SystemRequired: []Channel{ChannelEmail},
				AppOverride:    true,
				AppRequired:    []Channel{ChannelOtp},
			},
			required: true,
			types:    []Channel{ChannelOtp},
		},
		{
			name: "app override without flags disables system flags",
			in: MfaInput{
				SystemRequired: []Channel{ChannelEmail},
				AppOverride:    true,
			},
		},
		{
			name:         "enforcement without enrollment",
			in:           MfaInput{Enforce: []Channel{ChannelEmail, ChannelOtp}},
			required:     true,
			enforceOneOf: true,
		},
		{
			name:     "enforcement satisfied by enrollment",
			in:       MfaInput{Enforce: []Channel{ChannelOtp}, UserEnrolled: []Channel{ChannelOtp}},
			required: true,
			types:    []Channel{ChannelOtp},
		},
		{
			name: "org clears enforcement",
			in:   MfaInput{Enforce: []Channel{ChannelOtp}, OrgEnforce: []Channel{}},
		},
		{
			name:     "union keeps channel order",
			in:       MfaInput{SystemRequired: []Channel{ChannelEmail}, UserEnrolled: []Channel{ChannelSms, ChannelOtp}},
			required: true,
			types:    []Channel{ChannelOtp, ChannelSms, ChannelEmail},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideMfa(tc.in)
			if got.Required != tc.required {
				t.Fatalf("required: expected %v, got %v", tc.required, got.Required)
			}
			if !slices.Equal(got.Types, tc.types) {
				t.Fatalf("types: expected %v, got %v", tc.types, got.Types)
			}
			if got.EnforceOneOf != tc.enforceOneOf {
				t.Fatalf("enforceOneOf: expected %v, got %v", tc.enforceOneOf, got.EnforceOneOf)
			}
		})
	}
}

func TestDecisionRequirements(t *testing.T) {
	d := DecideMfa(MfaInput{Enforce: []Channel{ChannelEmail, ChannelOtp}})
	req := d.Requirements()
	if !req.EnrollRequired {
		t.Fatal("expected enrollment requirement")
	}
	if !slices.Equal(req.EnrollChoices, []Channel{ChannelOtp, ChannelEmail}) {
		t.Fatalf("unexpected choices %v", req.EnrollChoices)
	}

	if req := DecideMfa(MfaInput{}).Requirements(); req.EnrollRequired || len(req.Channels) != 0 {
		t.Fatalf("expected empty requirements, got %+v", req)
	}
}
