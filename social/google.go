package social

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

const googleIssuer = "https://accounts.google.com"

// Google verifies Google Sign-In ID tokens.
type Google struct {
	verifier *oidc.IDTokenVerifier
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

// NewGoogle discovers Google's signing keys and returns a verifier for
// tokens issued to clientID.
func NewGoogle(ctx context.Context, clientID string) (*Google, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("social: discover google: %w", err)
	}
	return &Google{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewGoogleWithVerifier uses an already configured verifier.
func NewGoogleWithVerifier(v *oidc.IDTokenVerifier) *Google {
	return &Google{verifier: v}
}

func (g *Google) Name() string { return ProviderGoogle }

func (g *Google) Authenticate(ctx context.Context, idToken string) (*Identity, error) {
	if idToken == "" {
		return nil, ErrInvalidCredential
	}
	token, err := g.verifier.Verify(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	var claims googleClaims
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return &Identity{
		Provider:      ProviderGoogle,
		Subject:       token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
	}, nil
}
