// Package passkey wraps WebAuthn registration and login ceremonies.
//
// Ceremony state is returned to the caller as opaque bytes so it can be kept
// in the ephemeral store between the options request and the response.
package passkey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	ErrInvalidResponse = errors.New("passkey: invalid authenticator response")
	ErrNoCredentials   = errors.New("passkey: user has no passkeys")
)

// Config identifies the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

// User adapts an account to webauthn.User.
type User struct {
	AuthID      string
	Email       string
	DisplayName string
	Credentials []webauthn.Credential
}

func (u *User) WebAuthnID() []byte                         { return []byte(u.AuthID) }
func (u *User) WebAuthnName() string                       { return u.Email }
func (u *User) WebAuthnCredentials() []webauthn.Credential { return u.Credentials }

func (u *User) WebAuthnDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Service runs ceremonies for one relying party.
type Service struct {
	wa *webauthn.WebAuthn
}

func New(cfg Config) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("passkey: %w", err)
	}
	return &Service{wa: wa}, nil
}

// BeginRegistration returns the creation options for the browser and the
// ceremony state. Existing credentials are excluded.
func (s *Service) BeginRegistration(user *User) (options []byte, state []byte, err error) {
	exclude := make([]protocol.CredentialDescriptor, 0, len(user.Credentials))
	for _, c := range user.Credentials {
		exclude = append(exclude, c.Descriptor())
	}
	creation, session, err := s.wa.BeginRegistration(user,
		webauthn.WithExclusions(exclude),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: begin registration: %w", err)
	}
	return marshalPair(creation, session)
}

// FinishRegistration validates the attestation response.
func (s *Service) FinishRegistration(user *User, state, response []byte) (*webauthn.Credential, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("passkey: session: %w", err)
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	cred, err := s.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return cred, nil
}

// BeginLogin returns the assertion options for the user's credentials.
func (s *Service) BeginLogin(user *User) (options []byte, state []byte, err error) {
	if len(user.Credentials) == 0 {
		return nil, nil, ErrNoCredentials
	}
	assertion, session, err := s.wa.BeginLogin(user)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: begin login: %w", err)
	}
	return marshalPair(assertion, session)
}

// FinishLogin validates the assertion and returns the credential with its
// updated sign counter, which the caller persists.
func (s *Service) FinishLogin(user *User, state, response []byte) (*webauthn.Credential, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("passkey: session: %w", err)
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	cred, err := s.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if cred.Authenticator.CloneWarning {
		return nil, fmt.Errorf("%w: sign counter regressed", ErrInvalidResponse)
	}
	return cred, nil
}

// EncodeCredential serializes a credential for storage.
func EncodeCredential(c *webauthn.Credential) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCredential reverses EncodeCredential.
func DecodeCredential(data []byte) (webauthn.Credential, error) {
	var c webauthn.Credential
	err := json.Unmarshal(data, &c)
	return c, err
}

func marshalPair(options any, session *webauthn.SessionData) ([]byte, []byte, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return nil, nil, err
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, err
	}
	return opts, state, nil
}
