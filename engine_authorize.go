package goIdP

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/internal/stores"
)

// Code challenge methods.
const (
	CodeChallengeS256  = "S256"
	CodeChallengePlain = "plain"
)

// standardScopes are accepted for every app.
var standardScopes = []string{"openid", "profile", "email", "roles", "offline_access"}

const maxCodeChallengeLength = 128

// AuthorizeRequest is the /authorize query. Every first step (password,
// sign up, social, passkey, recovery code) carries it again.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	State               string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Locale              string
	Org                 string
	Policy              string
}

// authorizeContext is a validated AuthorizeRequest.
type authorizeContext struct {
	app     *App
	org     *Org
	request stores.AuthRequest
}

func (e *Engine) validateAuthorize(ctx context.Context, in AuthorizeRequest) (*authorizeContext, error) {
	if e == nil || e.authCodes == nil {
		return nil, ErrEngineNotReady
	}

	app, err := e.getApp(ctx, strings.TrimSpace(in.ClientID))
	if err != nil {
		return nil, err
	}
	if !app.IsActive {
		return nil, ErrAppDisabled
	}
	if app.Type != AppTypeSPA {
		return nil, ErrWrongAppType
	}
	if in.RedirectURI == "" || !slices.Contains(app.RedirectURIs, in.RedirectURI) {
		return nil, ErrWrongRedirectURI
	}
	if in.ResponseType != "code" {
		return nil, ErrWrongResponseType
	}

	if in.CodeChallenge == "" {
		return nil, ErrMissingCodeChallenge
	}
	if len(in.CodeChallenge) > maxCodeChallengeLength {
		return nil, ErrInvalidRequest
	}
	method := in.CodeChallengeMethod
	if method == "" {
		method = CodeChallengeS256
	}
	if method != CodeChallengeS256 && method != CodeChallengePlain {
		return nil, ErrWrongCodeChallengeMethod
	}

	scopes := strings.Fields(in.Scope)
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}
	scopes = dedupe(scopes)
	for _, s := range scopes {
		if !slices.Contains(standardScopes, s) && !slices.Contains(app.Scopes, s) {
			return nil, ErrWrongScope
		}
	}

	policy := Policy(in.Policy)
	if !policy.Valid() || slices.Contains(e.config.Account.BlockedPolicies, policy) {
		return nil, ErrWrongPolicy
	}

	var org *Org
	if in.Org != "" {
		if e.orgs == nil {
			return nil, ErrOrgNotFound
		}
		org, err = e.orgs.GetOrgBySlug(ctx, in.Org)
		if err != nil {
			return nil, providerErr(err)
		}
		if !org.IsActive {
			return nil, ErrOrgDisabled
		}
	}

	return &authorizeContext{
		app: app,
		org: org,
		request: stores.AuthRequest{
			RedirectURI:         in.RedirectURI,
			Scopes:              scopes,
			State:               in.State,
			Nonce:               in.Nonce,
			CodeChallenge:       in.CodeChallenge,
			CodeChallengeMethod: method,
			Policy:              policy,
			Org:                 in.Org,
			Locale:              e.resolveLocale(in.Locale),
		},
	}, nil
}

func (e *Engine) resolveLocale(locale string) string {
	locales := e.config.Account.Locales
	if locale != "" && slices.Contains(locales, locale) {
		return locale
	}
	return locales[0]
}

func dedupe(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// Authorize handles GET /oauth2/v1/authorize. With a usable session the flow
// starts at once and the result either is Ready or names the next page.
// Without one the result has NextPage PageSignIn and no code.
func (e *Engine) Authorize(ctx context.Context, in AuthorizeRequest, sess *SessionInfo) (*StepResult, error) {
	ac, err := e.validateAuthorize(ctx, in)
	if err != nil {
		e.emitAudit(ctx, auditEventAuthorize, false, "", in.ClientID, err, nil)
		return nil, err
	}
	e.metricInc(MetricAuthorizeRequest)

	if sess != nil && e.config.Session.TTL > 0 && sess.AuthID != "" {
		user, err := e.users.GetUserByAuthID(ctx, sess.AuthID)
		switch {
		case err == nil && user.Usable():
			res, err := e.startFlow(ctx, ac, user, sess.Method, sess.Mfa, sess.AuthTime.Unix())
			if err != nil {
				return nil, err
			}
			e.metricInc(MetricSessionShortcut)
			e.emitAudit(ctx, auditEventSessionShortcut, true, user.AuthID, ac.app.ClientID, nil, func() map[string]string {
				return map[string]string{"policy": string(ac.request.Policy)}
			})
			return res, nil
		case err != nil:
			e.logger.Debug("session user lookup failed", zap.String("client_id", ac.app.ClientID), zap.Error(err))
		}
	}

	e.emitAudit(ctx, auditEventAuthorize, true, "", ac.app.ClientID, nil, nil)
	return &StepResult{
		RedirectURI: ac.request.RedirectURI,
		State:       ac.request.State,
		Scopes:      slices.Clone(ac.request.Scopes),
		NextPage:    PageSignIn,
		ClientID:    ac.app.ClientID,
	}, nil
}

// startFlow creates the auth code for a verified user. waiveMfa skips MFA
// verification for credentials that already prove a second factor; a
// remembered device does the same.
func (e *Engine) startFlow(ctx context.Context, ac *authorizeContext, user *User, method string, waiveMfa bool, authTime int64) (*StepResult, error) {
	waiveMfa = waiveMfa || e.deviceRemembered(ctx, user.AuthID)
	if authTime <= 0 {
		authTime = e.now().Unix()
	}
	rec := &stores.AuthCodeRecord{
		User: stores.AuthUser{
			ID:     user.ID,
			AuthID: user.AuthID,
			Email:  user.Email,
			Locale: user.Locale,
		},
		App: stores.AuthApp{
			ID:       ac.app.ID,
			ClientID: ac.app.ClientID,
			Name:     ac.app.Name,
		},
		Request:    ac.request,
		Flow:       flows.Initial(waiveMfa),
		AuthMethod: method,
		AuthTime:   authTime,
	}
	if rec.User.Locale == "" {
		rec.User.Locale = ac.request.Locale
	}

	req, err := e.requirements(ctx, rec, user, ac.app)
	if err != nil {
		return nil, err
	}
	rec.Flow = flows.Resolve(rec.Flow, req)

	code, err := e.authCodes.Create(ctx, rec, e.config.Token.AuthCodeTTL)
	if err != nil {
		return nil, backendError(err)
	}

	fc := &flowContext{code: code, rec: rec, user: user, app: ac.app}
	res := e.stepResult(fc, req)
	res.Session = e.sessionGrant(rec)
	return res, nil
}
