// Package social verifies third-party sign in assertions and turns them
// into an Identity: Google ID tokens through go-oidc and GitHub
// authorization codes through x/oauth2 and the GitHub REST API.
package social
