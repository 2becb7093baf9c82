package goIdP

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/goIdP/internal/stores"
	"github.com/MrEthical07/goIdP/jwt"
)

// Grant types accepted by the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// TokenTypeHintRefresh names the only revocable token type.
const TokenTypeHintRefresh = "refresh_token"

// TokenSet is the token endpoint response.
type TokenSet struct {
	AccessToken           string `json:"access_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	ExpiresOn             int64  `json:"expires_on"`
	NotBefore             int64  `json:"not_before"`
	Scope                 string `json:"scope,omitempty"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	RefreshTokenExpiresOn int64  `json:"refresh_token_expires_on,omitempty"`
	IDToken               string `json:"id_token,omitempty"`
}

// ExchangeInput is an authorization_code grant. ClientID and RedirectURI
// are checked against the code when present.
type ExchangeInput struct {
	Code         string
	CodeVerifier string
	ClientID     string
	RedirectURI  string
}

// RevokeInput is an RFC 7009 revocation request.
type RevokeInput struct {
	Token         string
	TokenTypeHint string
	ClientID      string
	ClientSecret  string
}

// UserInfo is the userinfo response.
type UserInfo struct {
	AuthID        string    `json:"authId"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	Locale        string    `json:"locale,omitempty"`
	Roles         []string  `json:"roles"`
	Org           string    `json:"org,omitempty"`
	LinkedAccount *UserInfo `json:"linkedAccount,omitempty"`
}

// ExchangeCode trades a ready auth code for tokens. A code is exchanged at
// most once: of two concurrent exchanges only one wins the take.
func (e *Engine) ExchangeCode(ctx context.Context, in ExchangeInput) (*TokenSet, error) {
	start := e.now()
	defer e.observeLatency(MetricTokenLatency, start)

	tokens, err := e.exchangeCode(ctx, in)
	if err != nil {
		e.metricInc(MetricCodeExchangeFailure)
		e.emitAudit(ctx, auditEventCodeExchange, false, "", in.ClientID, err, nil)
		return nil, err
	}
	return tokens, nil
}

func (e *Engine) exchangeCode(ctx context.Context, in ExchangeInput) (*TokenSet, error) {
	if e == nil || e.authCodes == nil {
		return nil, ErrEngineNotReady
	}
	if in.Code == "" || in.CodeVerifier == "" {
		return nil, ErrInvalidRequest
	}

	rec, err := e.authCodes.Get(ctx, in.Code)
	if err != nil {
		return nil, mapAuthCodeErr(err)
	}
	if in.ClientID != "" && in.ClientID != rec.App.ClientID {
		return nil, ErrClientMismatch
	}
	if in.RedirectURI != "" && in.RedirectURI != rec.Request.RedirectURI {
		return nil, ErrWrongRedirectURI
	}
	if !rec.Flow.Ready() || !rec.Request.Policy.IssuesCode() {
		return nil, ErrMfaNotSatisfied
	}
	if !verifyPKCE(rec.Request.CodeChallengeMethod, rec.Request.CodeChallenge, in.CodeVerifier) {
		return nil, ErrWrongCodeVerifier
	}

	rec, err = e.authCodes.Take(ctx, in.Code)
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

	org := rec.Request.Org
	if org == "" {
		org = user.Org
	}
	scopes := rec.Request.Scopes
	access, err := e.tokens.CreateAccess(ctx, jwt.AccessInput{
		Subject:  user.AuthID,
		ClientID: app.ClientID,
		Scopes:   scopes,
		Roles:    user.Roles,
		Org:      org,
		TTL:      e.config.Token.AccessTTL,
	})
	if err != nil {
		return nil, backendError(err)
	}
	out := tokenSet(access, scopes)

	if slices.Contains(scopes, "openid") {
		id, err := e.tokens.CreateID(ctx, user.AuthID, app.ClientID, e.config.Token.IDTokenTTL, idClaims(user, scopes, rec, org))
		if err != nil {
			return nil, backendError(err)
		}
		out.IDToken = id.Token
	}

	if slices.Contains(scopes, "offline_access") {
		now := e.now()
		ttl := e.config.Token.RefreshTTL
		refresh, err := e.refreshTokens.Issue(ctx, &stores.RefreshTokenRecord{
			AuthID:    user.AuthID,
			UserID:    user.ID,
			ClientID:  app.ClientID,
			Scope:     slices.Clone(scopes),
			Roles:     slices.Clone(user.Roles),
			Org:       org,
			CreatedAt: now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		}, ttl)
		if err != nil {
			return nil, backendError(err)
		}
		out.RefreshToken = refresh
		out.RefreshTokenExpiresIn = int64(ttl / time.Second)
		out.RefreshTokenExpiresOn = now.Add(ttl).Unix()
	}

	e.metricInc(MetricCodeExchangeSuccess)
	e.emitAudit(ctx, auditEventCodeExchange, true, user.AuthID, app.ClientID, nil, nil)
	return out, nil
}

func verifyPKCE(method, challenge, verifier string) bool {
	var computed string
	switch method {
	case CodeChallengeS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case CodeChallengePlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func tokenSet(access jwt.Issued, scopes []string) *TokenSet {
	return &TokenSet{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   access.ExpiresIn(),
		ExpiresOn:   access.ExpiresAt.Unix(),
		NotBefore:   access.IssuedAt.Unix(),
		Scope:       strings.Join(scopes, " "),
	}
}

func idClaims(user *User, scopes []string, rec *stores.AuthCodeRecord, org string) jwt.IDClaims {
	claims := jwt.IDClaims{
		Nonce:    rec.Request.Nonce,
		AuthTime: rec.AuthTime,
		Org:      org,
	}
	if slices.Contains(scopes, "email") && user.Email != "" {
		verified := user.EmailVerified
		claims.Email = user.Email
		claims.EmailVerified = &verified
	}
	if slices.Contains(scopes, "profile") {
		claims.GivenName = user.FirstName
		claims.FamilyName = user.LastName
		claims.Locale = user.Locale
	}
	if slices.Contains(scopes, "roles") {
		claims.Roles = user.Roles
	}
	return claims
}

// Refresh issues a new access token for a refresh token. The refresh token
// itself is not rotated and stays valid until it expires or is revoked.
func (e *Engine) Refresh(ctx context.Context, token, clientID string) (*TokenSet, error) {
	start := e.now()
	defer e.observeLatency(MetricTokenLatency, start)

	out, authID, err := e.refresh(ctx, token, clientID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, authID, clientID, err, nil)
		return nil, err
	}
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefresh, true, authID, clientID, nil, nil)
	return out, nil
}

func (e *Engine) refresh(ctx context.Context, token, clientID string) (*TokenSet, string, error) {
	if token == "" {
		return nil, "", ErrInvalidRequest
	}
	rec, err := e.refreshTokens.Get(ctx, token)
	if err != nil {
		if errors.Is(err, stores.ErrRefreshTokenNotFound) {
			return nil, "", ErrWrongRefreshToken
		}
		return nil, "", backendError(err)
	}
	if clientID != "" && clientID != rec.ClientID {
		return nil, rec.AuthID, ErrClientMismatch
	}
	if rec.ExpiresAt > 0 && e.now().Unix() > rec.ExpiresAt {
		return nil, rec.AuthID, ErrWrongRefreshToken
	}

	user, err := e.getUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, rec.AuthID, err
	}
	if !user.Usable() {
		return nil, rec.AuthID, ErrUserDisabled
	}

	access, err := e.tokens.CreateAccess(ctx, jwt.AccessInput{
		Subject:  rec.AuthID,
		ClientID: rec.ClientID,
		Scopes:   rec.Scope,
		Roles:    rec.Roles,
		Org:      rec.Org,
		TTL:      e.config.Token.AccessTTL,
	})
	if err != nil {
		return nil, rec.AuthID, backendError(err)
	}
	return tokenSet(access, rec.Scope), rec.AuthID, nil
}

// authenticateClient checks a confidential client's secret in constant time.
func authenticateClient(app *App, secret string) bool {
	if app.Secret == "" || secret == "" {
		return false
	}
	want := sha256.Sum256([]byte(app.Secret))
	got := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

// ClientCredentials issues an access token to a confidential s2s client.
// An empty scope grants every scope of the app.
func (e *Engine) ClientCredentials(ctx context.Context, clientID, secret, scope string) (*TokenSet, error) {
	start := e.now()
	defer e.observeLatency(MetricTokenLatency, start)

	app, err := e.getApp(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrAppNotFound) {
			err = ErrInvalidClient
		}
		e.metricInc(MetricClientAuthFailure)
		return nil, err
	}
	if !app.IsActive || !authenticateClient(app, secret) {
		e.metricInc(MetricClientAuthFailure)
		e.emitAudit(ctx, auditEventClientCredentials, false, "", clientID, ErrInvalidClient, nil)
		return nil, ErrInvalidClient
	}
	if app.Type != AppTypeS2S {
		return nil, ErrUnauthorizedClient
	}

	scopes := dedupe(strings.Fields(scope))
	if len(scopes) == 0 {
		scopes = slices.Clone(app.Scopes)
	}
	for _, s := range scopes {
		if !slices.Contains(app.Scopes, s) {
			return nil, ErrWrongScope
		}
	}

	access, err := e.tokens.CreateAccess(ctx, jwt.AccessInput{
		Subject:  app.ClientID,
		ClientID: app.ClientID,
		Scopes:   scopes,
		TTL:      e.config.Token.S2SAccessTTL,
	})
	if err != nil {
		return nil, backendError(err)
	}
	e.metricInc(MetricClientCredentials)
	e.emitAudit(ctx, auditEventClientCredentials, true, "", app.ClientID, nil, nil)
	return tokenSet(access, scopes), nil
}

// Revoke deletes a refresh token. Unknown tokens succeed per RFC 7009.
// Public clients identify with the client id, confidential clients must
// also present their secret. The type hint is advisory and every token is
// looked up as a refresh token. Access tokens are stateless and answer
// with ErrUnsupportedTokenType.
func (e *Engine) Revoke(ctx context.Context, in RevokeInput) error {
	if in.Token == "" {
		return ErrInvalidRequest
	}
	app, err := e.getApp(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, ErrAppNotFound) {
			return ErrInvalidClient
		}
		return err
	}
	if app.Type == AppTypeS2S && !authenticateClient(app, in.ClientSecret) {
		e.metricInc(MetricClientAuthFailure)
		return ErrInvalidClient
	}

	rec, err := e.refreshTokens.Get(ctx, in.Token)
	if err != nil {
		if !errors.Is(err, stores.ErrRefreshTokenNotFound) {
			return backendError(err)
		}
		if _, err := e.tokens.ParseAccess(ctx, in.Token); err == nil {
			return ErrUnsupportedTokenType
		}
		return nil
	}
	if rec.ClientID != app.ClientID {
		e.emitAudit(ctx, auditEventRevoke, false, rec.AuthID, app.ClientID, ErrClientMismatch, nil)
		return ErrClientMismatch
	}
	if _, err := e.refreshTokens.Delete(ctx, in.Token); err != nil {
		return backendError(err)
	}
	e.metricInc(MetricRevoke)
	e.emitAudit(ctx, auditEventRevoke, true, rec.AuthID, app.ClientID, nil, nil)
	return nil
}

// ParseAccessToken validates an access token issued by this engine.
func (e *Engine) ParseAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseAccess(ctx, token)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// UserInfo returns the live profile behind an access token.
func (e *Engine) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	claims, err := e.ParseAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	user, err := e.users.GetUserByAuthID(ctx, claims.Subject)
	if err != nil {
		return nil, providerErr(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.Usable() {
		return nil, ErrUserDisabled
	}

	info := userInfo(user)
	if user.LinkedID != 0 {
		linked, err := e.getUserByID(ctx, user.LinkedID)
		switch {
		case err == nil:
			info.LinkedAccount = userInfo(linked)
		case errors.Is(err, ErrUserNotFound):
		default:
			return nil, err
		}
	}
	e.metricInc(MetricUserInfo)
	return info, nil
}

func userInfo(u *User) *UserInfo {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return &UserInfo{
		AuthID:        u.AuthID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Locale:        u.Locale,
		Roles:         roles,
		Org:           u.Org,
	}
}

// Logout deletes refreshToken when it belongs to the bearer of accessToken.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	claims, err := e.ParseAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}
	if refreshToken != "" {
		rec, err := e.refreshTokens.Get(ctx, refreshToken)
		switch {
		case err == nil:
			if rec.AuthID == claims.Subject && rec.ClientID == claims.ClientID {
				if _, err := e.refreshTokens.Delete(ctx, refreshToken); err != nil {
					return backendError(err)
				}
			}
		case errors.Is(err, stores.ErrRefreshTokenNotFound):
		default:
			return backendError(err)
		}
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.Subject, claims.ClientID, nil, nil)
	return nil
}

// EndSession validates an RP-initiated logout and returns where to send the
// browser. The caller clears the session cookie.
func (e *Engine) EndSession(ctx context.Context, clientID, postLogoutRedirectURI string) (string, error) {
	app, err := e.getApp(ctx, clientID)
	if err != nil {
		return "", err
	}
	if postLogoutRedirectURI == "" {
		return "", nil
	}
	if !slices.Contains(app.RedirectURIs, postLogoutRedirectURI) {
		return "", ErrWrongLogoutRedirect
	}
	e.emitAudit(ctx, auditEventLogout, true, "", app.ClientID, nil, nil)
	return postLogoutRedirectURI, nil
}

// RotateSigningKey installs a new signing key. The old key stays in the JWKS
// until every token it signed has expired.
func (e *Engine) RotateSigningKey(ctx context.Context) error {
	key, err := e.keys.Rotate(ctx)
	if err != nil {
		return backendError(err)
	}
	e.tokens.Invalidate()
	e.logger.Info("signing key rotated", zap.String("kid", key.KID))
	e.emitAudit(ctx, auditEventSigningKeyRotated, true, "", "", nil, func() map[string]string {
		return map[string]string{"kid": key.KID}
	})
	return nil
}

// JWKS returns the public key set document.
func (e *Engine) JWKS(ctx context.Context) ([]byte, error) {
	doc, err := e.tokens.JWKS(ctx)
	if err != nil {
		return nil, backendError(err)
	}
	return doc, nil
}
