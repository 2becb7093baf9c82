package goIdP

import (
	"context"
	"slices"

	"github.com/MrEthical07/goIdP/internal/flows"
)

// ConsentInfo is rendered on the consent page.
type ConsentInfo struct {
	AppName           string   `json:"appName"`
	Scopes            []string `json:"scopes"`
	TermsLink         string   `json:"termsLink,omitempty"`
	PrivacyPolicyLink string   `json:"privacyPolicyLink,omitempty"`
}

// isConsentRequired reports whether the user still has to consent to app.
// Consent is recorded once per (user, app) pair.
func (e *Engine) isConsentRequired(ctx context.Context, user *User, app *App) (bool, error) {
	if !e.config.Consent.Enabled || e.consents == nil {
		return false, nil
	}
	ok, err := e.consents.HasConsent(ctx, user.ID, app.ID)
	if err != nil {
		return false, providerErr(err)
	}
	return !ok, nil
}

// ConsentInfo returns what the consent page shows. Org links override the
// system links.
func (e *Engine) ConsentInfo(ctx context.Context, code string) (*ConsentInfo, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseConsentPending, ""); err != nil {
		return nil, err
	}

	info := &ConsentInfo{
		AppName:           fc.app.Name,
		Scopes:            slices.Clone(fc.rec.Request.Scopes),
		TermsLink:         e.config.Account.TermsLink,
		PrivacyPolicyLink: e.config.Account.PrivacyPolicyLink,
	}
	org, err := e.flowOrg(ctx, fc.rec, fc.user)
	if err != nil {
		return nil, err
	}
	if org != nil {
		if org.TermsLink != "" {
			info.TermsLink = org.TermsLink
		}
		if org.PrivacyPolicyLink != "" {
			info.PrivacyPolicyLink = org.PrivacyPolicyLink
		}
	}
	return info, nil
}

// Consent records the user's consent to the app and moves the flow on.
func (e *Engine) Consent(ctx context.Context, code string) (*StepResult, error) {
	fc, err := e.loadFlow(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := expect(fc, flows.PhaseConsentPending, ""); err != nil {
		return nil, err
	}
	if err := e.consents.RecordConsent(ctx, fc.user.ID, fc.app.ID); err != nil {
		return nil, providerErr(err)
	}

	ev := flows.ConsentGranted()
	res, err := e.commit(ctx, fc, &ev)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricConsentGranted)
	e.emitAudit(ctx, auditEventConsentGranted, true, fc.user.AuthID, fc.rec.App.ClientID, nil, nil)
	return res, nil
}
