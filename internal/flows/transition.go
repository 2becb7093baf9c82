package flows

import (
	"errors"
	"slices"
)

var (
	// ErrStepMismatch is returned when an event does not belong to the current phase.
	ErrStepMismatch = errors.New("flow step mismatch")
	// ErrFlowComplete is returned for events against a ready flow.
	ErrFlowComplete = errors.New("flow already complete")
)

// EventKind identifies the input a step delivers.
type EventKind uint8

const (
	EventMfaEnrolled EventKind = iota + 1
	EventMfaVerified
	EventPasskeyEnrollDone
	EventConsentGranted
	EventPolicyCompleted
)

// Event is the input of a transition.
type Event struct {
	Kind    EventKind
	Channel Channel
}

// MfaEnrolled records that the user picked channel c on the enroll page.
func MfaEnrolled(c Channel) Event { return Event{Kind: EventMfaEnrolled, Channel: c} }

// MfaVerified records a correct code for channel c.
func MfaVerified(c Channel) Event { return Event{Kind: EventMfaVerified, Channel: c} }

// PasskeyEnrollDone records a registered or skipped passkey offer.
func PasskeyEnrollDone() Event { return Event{Kind: EventPasskeyEnrollDone} }

// ConsentGranted records the user's consent to the requested scopes.
func ConsentGranted() Event { return Event{Kind: EventConsentGranted} }

// PolicyCompleted records a finished policy sub-flow.
func PolicyCompleted() Event { return Event{Kind: EventPolicyCompleted} }

// Apply records ev against s. It never advances the phase; call Resolve for
// that once the requirements are known.
func Apply(s State, ev Event) (State, error) {
	if s.Ready() {
		return s, ErrFlowComplete
	}
	out := s.clone()

	switch ev.Kind {
	case EventMfaEnrolled:
		if s.Phase != PhaseMfaEnroll || !ev.Channel.Valid() {
			return s, ErrStepMismatch
		}
		out.Enrolled = true
	case EventMfaVerified:
		if s.Phase != PhaseMfaPending || s.Channel != ev.Channel {
			return s, ErrStepMismatch
		}
		if !out.HasVerified(ev.Channel) {
			out.Verified = append(out.Verified, ev.Channel)
		}
	case EventPasskeyEnrollDone:
		if s.Phase != PhasePasskeyEnroll {
			return s, ErrStepMismatch
		}
		out.PasskeyDone = true
	case EventConsentGranted:
		if s.Phase != PhaseConsentPending {
			return s, ErrStepMismatch
		}
		out.ConsentGranted = true
	case EventPolicyCompleted:
		if s.Phase != PhasePolicyPending {
			return s, ErrStepMismatch
		}
		out.PolicyDone = true
	default:
		return s, ErrStepMismatch
	}

	return out, nil
}

// Resolve moves s to the first requirement not yet satisfied. Order:
// MFA enrollment, each required MFA channel, passkey offer, consent (plain
// sign in only), policy, ready. A waiver never skips enforced enrollment,
// nor the verification of a channel enrolled during this flow.
func Resolve(s State, req Requirements) State {
	if s.Ready() {
		return s
	}
	out := s.clone()
	out.Channel = ""
	out.Policy = ""

	if req.EnrollRequired && !s.Enrolled {
		out.Phase = PhaseMfaEnroll
		return out
	}
	if !s.MfaWaived || s.Enrolled {
		for _, c := range orderChannels(req.Channels) {
			if !s.HasVerified(c) {
				out.Phase = PhaseMfaPending
				out.Channel = c
				return out
			}
		}
	}

	if req.OfferPasskeyEnroll && !s.PasskeyDone {
		out.Phase = PhasePasskeyEnroll
		return out
	}

	if req.Policy == PolicyNone {
		if req.ConsentRequired && !s.ConsentGranted {
			out.Phase = PhaseConsentPending
			return out
		}
	} else if !s.PolicyDone {
		out.Phase = PhasePolicyPending
		out.Policy = req.Policy
		return out
	}

	out.Phase = PhaseReady
	return out
}

func orderChannels(in []Channel) []Channel {
	out := make([]Channel, 0, len(in))
	for _, c := range channelOrder {
		if slices.Contains(in, c) {
			out = append(out, c)
		}
	}
	return out
}
