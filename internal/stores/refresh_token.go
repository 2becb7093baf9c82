package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/internal"
	"github.com/MrEthical07/goIdP/kv"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenBackend  = errors.New("refresh token backend unavailable")
)

// RefreshTokenRecord is stored at RefreshToken-<token>.
type RefreshTokenRecord struct {
	AuthID    string   `json:"authId"`
	UserID    int64    `json:"userId"`
	ClientID  string   `json:"clientId"`
	Scope     []string `json:"scope"`
	Roles     []string `json:"roles,omitempty"`
	Org       string   `json:"org,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt int64    `json:"expiresAt"`
}

// RefreshTokenStore persists refresh token records. Tokens are opaque random
// strings; the record TTL equals the refresh token lifetime.
type RefreshTokenStore struct {
	kv *kv.Store
}

func NewRefreshTokenStore(store *kv.Store) *RefreshTokenStore {
	return &RefreshTokenStore{kv: store}
}

func (s *RefreshTokenStore) key(token string) string {
	return kv.RefreshTokenKey + token
}

// Issue stores record under a fresh token and returns it.
func (s *RefreshTokenStore) Issue(ctx context.Context, record *RefreshTokenRecord, ttl time.Duration) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", err
	}
	for i := 0; i < maxCodeCollisions; i++ {
		token, err := internal.NewToken()
		if err != nil {
			return "", err
		}
		ok, err := s.kv.SetNX(ctx, s.key(token), data, ttl)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrRefreshTokenBackend, err)
		}
		if ok {
			return token, nil
		}
	}
	return "", fmt.Errorf("%w: token collision", ErrRefreshTokenBackend)
}

func (s *RefreshTokenStore) Get(ctx context.Context, token string) (*RefreshTokenRecord, error) {
	if token == "" {
		return nil, ErrRefreshTokenNotFound
	}
	record := &RefreshTokenRecord{}
	if err := s.kv.GetJSON(ctx, s.key(token), record); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRefreshTokenBackend, err)
	}
	return record, nil
}

// Delete removes the record and reports whether it existed.
func (s *RefreshTokenStore) Delete(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	n, err := s.kv.Delete(ctx, s.key(token))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRefreshTokenBackend, err)
	}
	return n > 0, nil
}
