package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/internal/flows"
	"github.com/MrEthical07/goIdP/kv"
)

var (
	ErrAuthCodeNotFound = errors.New("auth code not found")
	ErrAuthCodeBackend  = errors.New("auth code backend unavailable")
)

const maxCodeCollisions = 3

// AuthUser is the snapshot of the user a code was issued for.
type AuthUser struct {
	ID     int64  `json:"id"`
	AuthID string `json:"authId"`
	Email  string `json:"email,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// AuthApp identifies the client app of a code.
type AuthApp struct {
	ID       int64  `json:"id"`
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
}

// AuthRequest is the validated authorize query.
type AuthRequest struct {
	RedirectURI         string       `json:"redirectUri"`
	Scopes              []string     `json:"scopes"`
	State               string       `json:"state,omitempty"`
	Nonce               string       `json:"nonce,omitempty"`
	CodeChallenge       string       `json:"codeChallenge"`
	CodeChallengeMethod string       `json:"codeChallengeMethod"`
	Policy              flows.Policy `json:"policy,omitempty"`
	Org                 string       `json:"org,omitempty"`
	Locale              string       `json:"locale,omitempty"`
}

// AuthCodeRecord is stored at AC-<code>.
type AuthCodeRecord struct {
	User       AuthUser    `json:"user"`
	App        AuthApp     `json:"app"`
	Request    AuthRequest `json:"request"`
	Flow       flows.State `json:"flow"`
	AuthMethod string      `json:"authMethod"`
	AuthTime   int64       `json:"authTime"`
}

// AuthCodeStore persists auth code records.
type AuthCodeStore struct {
	kv *kv.Store
}

func NewAuthCodeStore(store *kv.Store) *AuthCodeStore {
	return &AuthCodeStore{kv: store}
}

func (s *AuthCodeStore) key(code string) string {
	return kv.AuthCodeKey + code
}

// Create stores record under a fresh random code and returns the code.
func (s *AuthCodeStore) Create(ctx context.Context, record *AuthCodeRecord, ttl time.Duration) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}

	for i := 0; i < maxCodeCollisions; i++ {
		code, err := internal.NewToken()
		if err != nil {
			return "", err
		}
		ok, err := s.kv.SetNX(ctx, s.key(code), data, ttl)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAuthCodeBackend, err)
		}
		if ok {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: code collision", ErrAuthCodeBackend)
}

func (s *AuthCodeStore) Get(ctx context.Context, code string) (*AuthCodeRecord, error) {
	if code == "" {
		return nil, ErrAuthCodeNotFound
	}
	record := &AuthCodeRecord{}
	if err := s.kv.GetJSON(ctx, s.key(code), record); err != nil {
		return nil, s.mapErr(err)
	}
	return record, nil
}

// Update applies fn to the stored record, keeping its remaining TTL. An
// error from fn aborts the update and is returned unchanged.
func (s *AuthCodeStore) Update(ctx context.Context, code string, fn func(*AuthCodeRecord) error) (*AuthCodeRecord, error) {
	if code == "" {
		return nil, ErrAuthCodeNotFound
	}
	var fnErr error
	record, err := kv.UpdateJSON(ctx, s.kv, s.key(code), func(r *AuthCodeRecord) error {
		fnErr = fn(r)
		return fnErr
	})
	if err != nil {
		if fnErr != nil && errors.Is(err, fnErr) {
			return nil, err
		}
		return nil, s.mapErr(err)
	}
	return record, nil
}

// Take atomically removes and returns the record. Of several concurrent
// callers exactly one gets the record; the others get ErrAuthCodeNotFound.
func (s *AuthCodeStore) Take(ctx context.Context, code string) (*AuthCodeRecord, error) {
	if code == "" {
		return nil, ErrAuthCodeNotFound
	}
	data, err := s.kv.Take(ctx, s.key(code))
	if err != nil {
		return nil, s.mapErr(err)
	}
	record := &AuthCodeRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *AuthCodeStore) Delete(ctx context.Context, code string) error {
	if _, err := s.kv.Delete(ctx, s.key(code)); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthCodeBackend, err)
	}
	return nil
}

func (s *AuthCodeStore) mapErr(err error) error {
	if errors.Is(err, kv.ErrNotFound) {
		return ErrAuthCodeNotFound
	}
	return fmt.Errorf("%w: %v", ErrAuthCodeBackend, err)
}
