package goIdP

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/stores"
)

// Pages named by StepResult.NextPage. A pending policy names its page
// after the policy itself.
const (
	// PageSignIn is the page for a flow that has no credentials yet.
	PageSignIn        = "sign_in"
	PageMfaEnroll     = flows.PageMfaEnroll
	PageOtpSetup      = flows.PageOtpSetup
	PageOtpMfa        = flows.PageOtpMfa
	PageSmsSetup      = flows.PageSmsSetup
	PageSmsMfa        = flows.PageSmsMfa
	PageEmailMfa      = flows.PageEmailMfa
	PagePasskeyEnroll = flows.PagePasskeyEnroll
	PageConsent       = flows.PageConsent
)

// StepResult is the outcome of every authorization step. While NextPage is
// set the UI renders that page with Code; once Ready the client is sent to
// RedirectURI with Code and State.
type StepResult struct {
	Code        string       `json:"code,omitempty"`
	RedirectURI string       `json:"redirectUri"`
	State       string       `json:"state,omitempty"`
	Scopes      []string     `json:"scopes,omitempty"`
	NextPage    string       `json:"nextPage,omitempty"`
	MfaTypes    []MfaChannel `json:"mfaTypes,omitempty"`
	// RecoveryCodes are returned once, right after the first MFA enrollment.
	RecoveryCodes []string `json:"recoveryCodes,omitempty"`
	// Success marks a policy flow that finished without issuing a code.
	Success bool `json:"success,omitempty"`
	Ready   bool `json:"-"`

	ClientID string `json:"-"`
	// Session asks the caller to record or refresh the SSO session.
	Session *SessionGrant `json:"-"`
	// RememberDevice carries the auth id to add to the remember-device
	// cookie.
	RememberDevice string `json:"-"`
	// ForgetDevice carries the auth id whose remember-device grant and SSO
	// session must be dropped, set after the user's MFA was reset.
	ForgetDevice string `json:"-"`
}

// SessionGrant is the SSO session the HTTP layer should write for ClientID.
type SessionGrant struct {
	ClientID string
	AuthID   string
	Method   string
	Mfa      bool
	AuthTime time.Time
}

// SessionInfo is a session loaded from the request, passed to Authorize.
type SessionInfo struct {
	AuthID   string
	Method   string
	Mfa      bool
	AuthTime time.Time
}

// flowContext is one loaded in-flight flow.
type flowContext struct {
	code string
	rec  *stores.AuthCodeRecord
	user *User
	app  *App
}

func mapAuthCodeErr(err error) error {
	if errors.Is(err, stores.ErrAuthCodeNotFound) {
		return ErrWrongCode
	}
	return backendError(err)
}

// loadFlow resolves code to a live record, user and app.
func (e *Engine) loadFlow(ctx context.Context, code string) (*flowContext, error) {
	if e == nil || e.authCodes == nil {
		return nil, ErrEngineNotReady
	}
	rec, err := e.authCodes.Get(ctx, code)
	if err != nil {
		return nil, mapAuthCodeErr(err)
	}
	user, err := e.getUserByID(ctx, rec.User.ID)
	if err != nil {
		return nil, err
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}
	app, err := e.getApp(ctx, rec.App.ClientID)
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, ErrAppDisabled
	}
	return &flowContext{code: code, rec: rec, user: user, app: app}, nil
}

// expect rejects a step that does not belong to the current phase.
func expect(fc *flowContext, phase flows.Phase, channel MfaChannel) error {
	if fc.rec.Flow.Phase != phase {
		return ErrWrongStep
	}
	if channel != "" && fc.rec.Flow.Channel != channel {
		return ErrWrongStep
	}
	return nil
}

func expectPolicy(fc *flowContext, policy Policy) error {
	if fc.rec.Flow.Phase != flows.PhasePolicyPending || fc.rec.Flow.Policy != policy {
		return ErrWrongStep
	}
	return nil
}

// requirements derives what the flow still needs from the live user, app,
// org and configuration.
func (e *Engine) requirements(ctx context.Context, rec *stores.AuthCodeRecord, user *User, app *App) (flows.Requirements, error) {
	input := flows.MfaInput{
		SystemRequired:   e.config.Mfa.systemRequired(),
		AppOverride:      !app.UseSystemMfaConfig,
		AppRequired:      appRequiredMfa(app),
		Enforce:          e.config.Mfa.Enforce,
		UserEnrolled:     user.MfaTypes,
	}
	org, err := e.flowOrg(ctx, rec, user)
	if err != nil {
		return flows.Requirements{}, err
	}
	if org != nil && org.EnforceMfa != nil {
		input.OrgEnforce = org.EnforceMfa
	}

	req := flows.DecideMfa(input).Requirements()
	req.Policy = rec.Request.Policy

	if req.Policy == PolicyNone {
		required, err := e.isConsentRequired(ctx, user, app)
		if err != nil {
			return flows.Requirements{}, err
		}
		req.ConsentRequired = required
	}

	if e.config.Mfa.OfferPasskeyEnroll && e.passkeys != nil && rec.AuthMethod != AuthMethodPasskey {
		creds, err := e.creds.ListPasskeys(ctx, user.ID)
		if err != nil {
			return flows.Requirements{}, providerErr(err)
		}
		req.OfferPasskeyEnroll = len(creds) == 0
	}
	return req, nil
}

func appRequiredMfa(app *App) []MfaChannel {
	var out []MfaChannel
	if app.RequireOtpMfa {
		out = append(out, MfaOtp)
	}
	if app.RequireSmsMfa {
		out = append(out, MfaSms)
	}
	if app.RequireEmailMfa {
		out = append(out, MfaEmail)
	}
	return out
}

// flowOrg returns the org of the request, falling back to the user's org.
// A user org that no longer exists is ignored.
func (e *Engine) flowOrg(ctx context.Context, rec *stores.AuthCodeRecord, user *User) (*Org, error) {
	if e.orgs == nil {
		return nil, nil
	}
	slug := rec.Request.Org
	if slug == "" {
		slug = user.Org
	}
	if slug == "" {
		return nil, nil
	}
	org, err := e.orgs.GetOrgBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			return nil, nil
		}
		return nil, providerErr(err)
	}
	return org, nil
}

func (e *Engine) deviceRemembered(ctx context.Context, authID string) bool {
	if e.config.Mfa.RememberDeviceDays <= 0 {
		return false
	}
	return slices.Contains(rememberedDevicesFromContext(ctx), authID)
}

// commit applies ev (when non-nil) to the stored flow and resolves it
// against the current requirements.
func (e *Engine) commit(ctx context.Context, fc *flowContext, ev *flows.Event) (*StepResult, error) {
	req, err := e.requirements(ctx, fc.rec, fc.user, fc.app)
	if err != nil {
		return nil, err
	}

	rec, err := e.authCodes.Update(ctx, fc.code, func(r *stores.AuthCodeRecord) error {
		state := r.Flow
		if ev != nil {
			next, err := flows.Apply(state, *ev)
			if err != nil {
				return err
			}
			state = next
		}
		r.Flow = flows.Resolve(state, req)
		return nil
	})
	if err != nil {
		if errors.Is(err, flows.ErrStepMismatch) || errors.Is(err, flows.ErrFlowComplete) {
			return nil, ErrWrongStep
		}
		return nil, mapAuthCodeErr(err)
	}
	fc.rec = rec
	return e.stepResult(fc, req), nil
}

func (e *Engine) stepResult(fc *flowContext, req flows.Requirements) *StepResult {
	rec := fc.rec
	res := &StepResult{
		Code:        fc.code,
		RedirectURI: rec.Request.RedirectURI,
		State:       rec.Request.State,
		Scopes:      slices.Clone(rec.Request.Scopes),
		ClientID:    rec.App.ClientID,
	}
	if rec.Flow.Ready() {
		res.Ready = true
		return res
	}
	res.NextPage = flows.StepName(rec.Flow, flows.UserFacts{
		OtpVerified:      fc.user.OtpVerified && fc.user.OtpSecret != "",
		SmsPhoneVerified: fc.user.SmsPhoneVerified && fc.user.SmsPhone != "",
	})
	if rec.Flow.Phase == flows.PhaseMfaEnroll {
		res.MfaTypes = slices.Clone(req.EnrollChoices)
	}
	return res
}

func (e *Engine) sessionGrant(rec *stores.AuthCodeRecord) *SessionGrant {
	if e.config.Session.TTL <= 0 {
		return nil
	}
	return &SessionGrant{
		ClientID: rec.App.ClientID,
		AuthID:   rec.User.AuthID,
		Method:   rec.AuthMethod,
		Mfa:      rec.Flow.MfaSatisfied(),
		AuthTime: time.Unix(rec.AuthTime, 0),
	}
}

// finishPolicy completes a policy that does not issue a code: the code is
// deleted and the client is sent back without one.
func (e *Engine) finishPolicy(ctx context.Context, fc *flowContext, eventType string) (*StepResult, error) {
	if _, err := flows.Apply(fc.rec.Flow, flows.PolicyCompleted()); err != nil {
		return nil, ErrWrongStep
	}
	if err := e.authCodes.Delete(ctx, fc.code); err != nil {
		e.logger.Warn("failed to delete auth code after policy",
			zap.String("client_id", fc.rec.App.ClientID),
			zap.Error(err))
	}

	e.metricInc(MetricPolicyCompleted)
	e.emitAudit(ctx, eventType, true, fc.user.AuthID, fc.rec.App.ClientID, nil, nil)

	return &StepResult{
		RedirectURI: fc.rec.Request.RedirectURI,
		State:       fc.rec.Request.State,
		Success:     true,
		ClientID:    fc.rec.App.ClientID,
	}, nil
}
