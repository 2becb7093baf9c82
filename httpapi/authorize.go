package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
	"github.com/MrEthical07/goIdP/session"
)

// authorizeParams are the /authorize query parameters. Credential steps
// repeat them in their JSON body.
type authorizeParams struct {
	ClientID            string `json:"client_id" validate:"required,max=255"`
	RedirectURI         string `json:"redirect_uri" validate:"required,max=2048"`
	ResponseType        string `json:"response_type" validate:"max=32"`
	State               string `json:"state" validate:"max=1024"`
	Scope               string `json:"scope" validate:"max=1024"`
	Nonce               string `json:"nonce" validate:"max=1024"`
	CodeChallenge       string `json:"code_challenge" validate:"max=256"`
	CodeChallengeMethod string `json:"code_challenge_method" validate:"max=16"`
	Locale              string `json:"locale" validate:"max=35"`
	Org                 string `json:"org" validate:"max=255"`
	Policy              string `json:"policy" validate:"max=64"`
}

func paramsFromQuery(q url.Values) authorizeParams {
	return authorizeParams{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		State:               q.Get("state"),
		Scope:               q.Get("scope"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Locale:              q.Get("locale"),
		Org:                 q.Get("org"),
		Policy:              q.Get("policy"),
	}
}

func (p authorizeParams) query() url.Values {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("client_id", p.ClientID)
	set("redirect_uri", p.RedirectURI)
	set("response_type", p.ResponseType)
	set("state", p.State)
	set("scope", p.Scope)
	set("nonce", p.Nonce)
	set("code_challenge", p.CodeChallenge)
	set("code_challenge_method", p.CodeChallengeMethod)
	set("locale", p.Locale)
	set("org", p.Org)
	set("policy", p.Policy)
	return q
}

func (p authorizeParams) request() goIdP.AuthorizeRequest {
	return goIdP.AuthorizeRequest{
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		ResponseType:        p.ResponseType,
		State:               p.State,
		Scope:               p.Scope,
		Nonce:               p.Nonce,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Locale:              p.Locale,
		Org:                 p.Org,
		Policy:              p.Policy,
	}
}

// pagePath maps a StepResult page to its route under UIPath.
func (h *Handler) pagePath(page string) string {
	name := "authorize-password"
	if page != goIdP.PageSignIn {
		name = "authorize-" + strings.ReplaceAll(page, "_", "-")
	}
	return strings.TrimRight(h.config.UIPath, "/") + "/" + name
}

// authorize handles GET /oauth2/v1/authorize. A usable SSO session starts
// the flow at once; otherwise the browser goes to the sign-in page.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	params := paramsFromQuery(r.URL.Query())
	if err := h.validate.Struct(params); err != nil {
		h.writeError(w, r, goIdP.ErrInvalidRequest)
		return
	}

	var sess *goIdP.SessionInfo
	if s := h.sessions.Load(r, params.ClientID); s != nil {
		sess = &goIdP.SessionInfo{AuthID: s.AuthID, Method: s.Method, Mfa: s.Mfa, AuthTime: s.AuthTime}
	}

	res, err := h.engine.Authorize(h.engineContext(r), params.request(), sess)
	if err != nil {
		// The redirect uri is not trusted until the engine accepted it.
		h.writeError(w, r, err)
		return
	}
	h.applyGrants(w, r, res)

	switch {
	case res.Ready || res.Success:
		http.Redirect(w, r, clientRedirect(res), http.StatusFound)
	case res.NextPage == goIdP.PageSignIn:
		http.Redirect(w, r, h.pagePath(res.NextPage)+"?"+params.query().Encode(), http.StatusFound)
	default:
		q := url.Values{}
		q.Set("code", res.Code)
		if params.Locale != "" {
			q.Set("locale", params.Locale)
		}
		if len(res.MfaTypes) > 0 {
			types := make([]string, len(res.MfaTypes))
			for i, t := range res.MfaTypes {
				types[i] = string(t)
			}
			q.Set("mfa_types", strings.Join(types, ","))
		}
		http.Redirect(w, r, h.pagePath(res.NextPage)+"?"+q.Encode(), http.StatusFound)
	}
}

// clientRedirect builds redirect_uri?code=...&state=... for a finished flow.
func clientRedirect(res *goIdP.StepResult) string {
	u, err := url.Parse(res.RedirectURI)
	if err != nil {
		return res.RedirectURI
	}
	q := u.Query()
	if res.Code != "" && res.Ready {
		q.Set("code", res.Code)
	}
	if res.State != "" {
		q.Set("state", res.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// applyGrants writes the cookies a step asked for. Cookie failures are
// logged; the step itself already succeeded.
func (h *Handler) applyGrants(w http.ResponseWriter, r *http.Request, res *goIdP.StepResult) {
	if g := res.Session; g != nil && h.sessions.Enabled() {
		err := h.sessions.Record(w, r, g.ClientID, session.Session{
			AuthID:   g.AuthID,
			Method:   g.Method,
			Mfa:      g.Mfa,
			AuthTime: g.AuthTime,
		})
		if err != nil {
			h.logger.Warn("record session", zap.String("client_id", g.ClientID), zap.Error(err))
		}
	}
	if res.ForgetDevice != "" {
		if h.devices.Enabled() {
			if err := h.devices.Forget(w, r, res.ForgetDevice); err != nil {
				h.logger.Warn("forget device", zap.Error(err))
			}
		}
		h.clearSession(w, r, res.ClientID)
	}
	if res.RememberDevice != "" && h.devices.Enabled() {
		if err := h.devices.Remember(w, r, res.RememberDevice); err != nil {
			h.logger.Warn("remember device", zap.Error(err))
		}
	}
}

// writeStep answers a POST step with the step result JSON.
func (h *Handler) writeStep(w http.ResponseWriter, r *http.Request, res *goIdP.StepResult, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.applyGrants(w, r, res)
	noStore(w)
	writeJSON(w, http.StatusOK, res)
}

// authCodeExpired is the terminal page for a dead auth code.
func (h *Handler) authCodeExpired(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, goIdP.ErrWrongCode.Status, errorBody{Error: goIdP.ErrWrongCode.Code, Message: goIdP.ErrWrongCode.Message})
}

// writePage answers a GET step page. A dead auth code redirects to the
// auth-code-expired page instead of failing in place.
func (h *Handler) writePage(w http.ResponseWriter, r *http.Request, v any, err error) {
	if errors.Is(err, goIdP.ErrWrongCode) {
		http.Redirect(w, r, h.pagePath("auth_code_expired"), http.StatusFound)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, v)
}

/*
====================================
CREDENTIAL STEPS
====================================
*/

type passwordBody struct {
	authorizeParams
	Email    string `json:"email" validate:"required,email,max=320"`
	Password string `json:"password" validate:"required,max=1024"`
}

func (b *passwordBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

func (h *Handler) authorizePassword(w http.ResponseWriter, r *http.Request) {
	var body passwordBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.AuthorizePassword(h.engineContext(r), body.request(), body.Email, body.Password)
	h.writeStep(w, r, res, err)
}

type signUpBody struct {
	authorizeParams
	Email     string `json:"email" validate:"required,email,max=320"`
	Password  string `json:"password" validate:"required,max=1024"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
}

func (b *signUpBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

func (h *Handler) authorizeAccount(w http.ResponseWriter, r *http.Request) {
	var body signUpBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.AuthorizeAccount(h.engineContext(r), body.request(), goIdP.SignUpInput{
		Email:     body.Email,
		Password:  body.Password,
		FirstName: body.FirstName,
		LastName:  body.LastName,
	})
	h.writeStep(w, r, res, err)
}

type socialBody struct {
	authorizeParams
	Provider   string `json:"provider" validate:"required,max=32"`
	Credential string `json:"credential" validate:"required,max=8192"`
}

func (h *Handler) authorizeSocial(w http.ResponseWriter, r *http.Request) {
	var body socialBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.AuthorizeSocial(h.engineContext(r), body.request(), body.Provider, body.Credential)
	h.writeStep(w, r, res, err)
}

type recoveryCodeBody struct {
	passwordBody
	RecoveryCode string `json:"recoveryCode" validate:"required,max=64"`
}

func (h *Handler) authorizeRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var body recoveryCodeBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.AuthorizeRecoveryCode(h.engineContext(r), body.request(), body.Email, body.Password, body.RecoveryCode)
	h.writeStep(w, r, res, err)
}

type passkeyOptionsBody struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

func (b *passkeyOptionsBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

func (h *Handler) passkeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	var body passkeyOptionsBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	options, err := h.engine.PasskeyLoginOptions(h.engineContext(r), body.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeRaw(w, options)
}

type passkeyBody struct {
	authorizeParams
	Email    string          `json:"email" validate:"required,email,max=320"`
	Response json.RawMessage `json:"response" validate:"required"`
}

func (b *passkeyBody) normalize() { b.Email = strings.TrimSpace(b.Email) }

func (h *Handler) authorizePasskey(w http.ResponseWriter, r *http.Request) {
	var body passkeyBody
	if err := h.decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.AuthorizePasskey(h.engineContext(r), body.request(), body.Email, body.Response)
	h.writeStep(w, r, res, err)
}

func writeRaw(w http.ResponseWriter, doc []byte) {
	noStore(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
