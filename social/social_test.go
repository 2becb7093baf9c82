package social

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestGoogleAuthenticate(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	g := NewGoogleWithVerifier(oidc.NewVerifier(googleIssuer, keySet, &oidc.Config{ClientID: "web-client"}))

	sign := func(aud string) string {
		tok := gjwt.NewWithClaims(gjwt.SigningMethodRS256, gjwt.MapClaims{
			"iss":            googleIssuer,
			"aud":            aud,
			"sub":            "google-123",
			"email":          "a@example.com",
			"email_verified": true,
			"given_name":     "Ada",
			"family_name":    "Lovelace",
			"iat":            time.Now().Unix(),
			"exp":            time.Now().Add(time.Hour).Unix(),
		})
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	identity, err := g.Authenticate(context.Background(), sign("web-client"))
	require.NoError(t, err)
	assert.Equal(t, &Identity{
		Provider:      ProviderGoogle,
		Subject:       "google-123",
		Email:         "a@example.com",
		EmailVerified: true,
		FirstName:     "Ada",
		LastName:      "Lovelace",
	}, identity)

	_, err = g.Authenticate(context.Background(), sign("other-client"))
	assert.ErrorIs(t, err, ErrInvalidCredential)
	_, err = g.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestGitHubAuthenticate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "gh-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "gho_x", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_x", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(githubUser{ID: 42, Login: "octo", Name: "Octo Cat"})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]githubEmail{
			{Email: "old@example.com", Verified: true},
			{Email: "octo@example.com", Primary: true, Verified: true},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGitHub(GitHubConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/login/oauth/authorize", TokenURL: srv.URL + "/login/oauth/access_token"},
		APIURL:       srv.URL,
	})

	identity, err := g.Authenticate(context.Background(), "gh-code")
	require.NoError(t, err)
	assert.Equal(t, "42", identity.Subject)
	assert.Equal(t, "octo@example.com", identity.Email)
	assert.Equal(t, "Octo", identity.FirstName)
	assert.Equal(t, "Cat", identity.LastName)
}

func TestGitHubRequiresVerifiedEmail(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(githubUser{ID: 1})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]githubEmail{{Email: "x@example.com", Primary: true}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGitHub(GitHubConfig{ClientID: "c", Endpoint: oauth2.Endpoint{TokenURL: srv.URL + "/token"}, APIURL: srv.URL})
	_, err := g.Authenticate(context.Background(), "code")
	assert.ErrorIs(t, err, ErrNoEmail)
}
