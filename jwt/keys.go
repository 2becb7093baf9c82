package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/kv"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultKeyBits = 2048

var (
	ErrKeyUnavailable = errors.New("signing key unavailable")
	ErrInvalidKey     = errors.New("invalid signing key")
)

// SigningKey is one RSA key pair with its key id.
type SigningKey struct {
	KID       string
	Private   *rsa.PrivateKey
	CreatedAt time.Time
}

// Public returns the verification half of the key.
func (k *SigningKey) Public() *rsa.PublicKey {
	return &k.Private.PublicKey
}

type storedKey struct {
	KID       string `json:"kid"`
	PEM       string `json:"pem"`
	CreatedAt int64  `json:"createdAt"`
}

// KeySource provides the active and the previously active signing key.
type KeySource interface {
	Current(ctx context.Context) (*SigningKey, error)
	Deprecated(ctx context.Context) (*SigningKey, error)
}

// KeyRing stores signing keys in the KV store. The first instance that finds
// no key creates one; concurrent creators converge on whichever key won SETNX.
type KeyRing struct {
	store         *kv.Store
	bits          int
	deprecatedTTL time.Duration
}

// NewKeyRing returns a ring whose rotated-out key stays verifiable for
// deprecatedTTL, which should cover the longest token lifetime.
func NewKeyRing(store *kv.Store, deprecatedTTL time.Duration) *KeyRing {
	return &KeyRing{
		store:         store,
		bits:          defaultKeyBits,
		deprecatedTTL: deprecatedTTL,
	}
}

func (r *KeyRing) Current(ctx context.Context) (*SigningKey, error) {
	key, err := r.load(ctx, kv.SigningKeyKey)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}

	created, stored, err := r.generate()
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	ok, err := r.store.SetNX(ctx, kv.SigningKeyKey, encoded, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if ok {
		return created, nil
	}
	return r.load(ctx, kv.SigningKeyKey)
}

// Deprecated returns nil without error when no rotated-out key is kept.
func (r *KeyRing) Deprecated(ctx context.Context) (*SigningKey, error) {
	key, err := r.load(ctx, kv.DeprecatedSigningKeyKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	return key, err
}

// Rotate makes a fresh key current and keeps the old one as deprecated.
func (r *KeyRing) Rotate(ctx context.Context) (*SigningKey, error) {
	old, err := r.store.Get(ctx, kv.SigningKeyKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	created, stored, err := r.generate()
	if err != nil {
		return nil, err
	}
	if old != nil {
		if err := r.store.Set(ctx, kv.DeprecatedSigningKeyKey, old, r.deprecatedTTL); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
	}
	if err := r.store.SetJSON(ctx, kv.SigningKeyKey, stored, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	return created, nil
}

func (r *KeyRing) load(ctx context.Context, name string) (*SigningKey, error) {
	data, err := r.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return decodeKey(stored)
}

func (r *KeyRing) generate() (*SigningKey, storedKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, r.bits)
	if err != nil {
		return nil, storedKey{}, err
	}
	key := &SigningKey{
		KID:       uuid.NewString(),
		Private:   priv,
		CreatedAt: time.Now().UTC(),
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return key, storedKey{KID: key.KID, PEM: string(block), CreatedAt: key.CreatedAt.Unix()}, nil
}

func decodeKey(stored storedKey) (*SigningKey, error) {
	if stored.KID == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrInvalidKey)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(stored.PEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &SigningKey{
		KID:       stored.KID,
		Private:   priv,
		CreatedAt: time.Unix(stored.CreatedAt, 0).UTC(),
	}, nil
}
