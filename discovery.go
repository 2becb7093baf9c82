package goIdP

import "strings"

// Discovery is the OpenID provider metadata document.
type Discovery struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// Discovery returns the metadata served at
// /.well-known/openid-configuration. Endpoints hang off the issuer.
func (e *Engine) Discovery() Discovery {
	base := strings.TrimRight(e.config.Token.Issuer, "/")
	return Discovery{
		Issuer:                            e.config.Token.Issuer,
		AuthorizationEndpoint:             base + "/oauth2/v1/authorize",
		TokenEndpoint:                     base + "/oauth2/v1/token",
		UserInfoEndpoint:                  base + "/oauth2/v1/userinfo",
		RevocationEndpoint:                base + "/oauth2/v1/revoke",
		EndSessionEndpoint:                base + "/oauth2/v1/logout",
		JWKSURI:                           base + "/.well-known/jwks.json",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		ScopesSupported:                   append([]string(nil), standardScopes...),
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "none"},
		CodeChallengeMethodsSupported:     []string{CodeChallengeS256, CodeChallengePlain},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"email", "email_verified", "given_name", "family_name", "locale", "roles", "org",
		},
	}
}
