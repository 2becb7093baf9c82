package social

import (
	"context"
	"errors"
)

const (
	ProviderGoogle = "google"
	ProviderGitHub = "github"
)

var (
	ErrInvalidCredential = errors.New("social: invalid credential")
	ErrNoEmail           = errors.New("social: provider returned no verified email")
)

// Identity is the verified account at a provider.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
}

// Provider authenticates a credential issued by an external identity
// provider. The credential is an ID token for Google and an authorization
// code for GitHub.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, credential string) (*Identity, error)
}
