package social

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// GitHub exchanges GitHub OAuth authorization codes.
type GitHub struct {
	config *oauth2.Config
	apiURL string
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubConfig configures the GitHub provider. Endpoint and APIURL default to
// github.com.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Endpoint     oauth2.Endpoint
	APIURL       string
}

func NewGitHub(cfg GitHubConfig) *GitHub {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = github.Endpoint
	}
	api := cfg.APIURL
	if api == "" {
		api = githubAPI
	}
	return &GitHub{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     endpoint,
		},
		apiURL: strings.TrimRight(api, "/"),
	}
}

func (g *GitHub) Name() string { return ProviderGitHub }

// AuthCodeURL returns the GitHub consent URL for state.
func (g *GitHub) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state)
}

func (g *GitHub) Authenticate(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, ErrInvalidCredential
	}
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	client := g.config.Client(ctx, token)

	var user githubUser
	if err := g.get(ctx, client, "/user", &user); err != nil {
		return nil, err
	}
	var emails []githubEmail
	if err := g.get(ctx, client, "/user/emails", &emails); err != nil {
		return nil, err
	}

	identity := &Identity{Provider: ProviderGitHub, Subject: strconv.FormatInt(user.ID, 10)}
	for _, e := range emails {
		if e.Primary && e.Verified {
			identity.Email = e.Email
			identity.EmailVerified = true
			break
		}
	}
	if identity.Email == "" {
		return nil, ErrNoEmail
	}
	identity.FirstName, identity.LastName = splitName(user.Name)
	return identity, nil
}

func (g *GitHub) get(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("social: github %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("social: github %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}
