package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	goIdP "github.com/MrEthical07/goIdP"
)

// token handles POST /oauth2/v1/token for every supported grant.
func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, r, goIdP.ErrInvalidRequest)
		return
	}
	clientID, secret, _ := clientCredentials(r)
	ctx := h.engineContext(r)

	var (
		tokens *goIdP.TokenSet
		err    error
	)
	switch r.PostForm.Get("grant_type") {
	case goIdP.GrantAuthorizationCode:
		tokens, err = h.engine.ExchangeCode(ctx, goIdP.ExchangeInput{
			Code:         r.PostForm.Get("code"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			ClientID:     clientID,
			RedirectURI:  r.PostForm.Get("redirect_uri"),
		})
	case goIdP.GrantRefreshToken:
		tokens, err = h.engine.Refresh(ctx, r.PostForm.Get("refresh_token"), clientID)
	case goIdP.GrantClientCredentials:
		tokens, err = h.engine.ClientCredentials(ctx, clientID, secret, r.PostForm.Get("scope"))
	case "":
		err = goIdP.ErrInvalidRequest
	default:
		err = goIdP.ErrUnsupportedGrantType
	}
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, tokens)
}

// revoke handles RFC 7009 revocation. Unknown tokens still answer 200.
func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, r, goIdP.ErrInvalidRequest)
		return
	}
	clientID, secret, _ := clientCredentials(r)
	err := h.engine.Revoke(h.engineContext(r), goIdP.RevokeInput{
		Token:         r.PostForm.Get("token"),
		TokenTypeHint: r.PostForm.Get("token_type_hint"),
		ClientID:      clientID,
		ClientSecret:  secret,
	})
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	noStore(w)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) userInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.UserInfo(h.engineContext(r), bearer(r))
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, info)
}

type endSessionResponse struct {
	Success     bool   `json:"success"`
	RedirectURI string `json:"redirectUri,omitempty"`
}

// endSession handles RP-initiated logout. It clears the SSO cookie of the
// client and, for GET, redirects to the post-logout uri. A bearer token
// also signs the caller out and drops the refresh_token form field.
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, goIdP.ErrInvalidRequest)
		return
	}
	ctx := h.engineContext(r)
	clientID := r.Form.Get("client_id")
	if access := bearer(r); access != "" {
		claims, err := h.engine.ParseAccessToken(ctx, access)
		if err != nil {
			h.writeOAuthError(w, r, err)
			return
		}
		if err := h.engine.Logout(ctx, access, r.Form.Get("refresh_token")); err != nil {
			h.writeError(w, r, err)
			return
		}
		if clientID == "" {
			clientID = claims.ClientID
		}
	}
	target, err := h.engine.EndSession(ctx, clientID, r.Form.Get("post_logout_redirect_uri"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSession(w, r, clientID)

	if r.Method == http.MethodGet && target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, endSessionResponse{Success: true, RedirectURI: target})
}

type logoutBody struct {
	RefreshToken          string `json:"refresh_token" validate:"max=512"`
	PostLogoutRedirectURI string `json:"post_logout_redirect_uri" validate:"max=2048"`
}

// logout signs the bearer out: it drops the given refresh token, clears the
// SSO cookie and validates an optional post-logout redirect.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var body logoutBody
	if r.ContentLength != 0 {
		if err := h.decode(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	ctx := h.engineContext(r)
	access := bearer(r)
	claims, err := h.engine.ParseAccessToken(ctx, access)
	if err != nil {
		h.writeOAuthError(w, r, err)
		return
	}
	if err := h.engine.Logout(ctx, access, body.RefreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSession(w, r, claims.ClientID)

	var target string
	if body.PostLogoutRedirectURI != "" {
		target, err = h.engine.EndSession(ctx, claims.ClientID, body.PostLogoutRedirectURI)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	noStore(w)
	writeJSON(w, http.StatusOK, endSessionResponse{Success: true, RedirectURI: target})
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request, clientID string) {
	if clientID == "" || !h.sessions.Enabled() {
		return
	}
	if err := h.sessions.Clear(w, r, clientID); err != nil {
		h.logger.Warn("clear session", zap.String("client_id", clientID), zap.Error(err))
	}
}

func (h *Handler) discovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, h.engine.Discovery())
}

func (h *Handler) jwks(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.JWKS(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
