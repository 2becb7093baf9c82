package jwt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config holds token lifetimes and validation settings.
type Config struct {
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
}

// Manager signs and verifies tokens with the keys of a KeyCache.
type Manager struct {
	config Config
	keys   *KeyCache
	now    func() time.Time
}

// AccessClaims are the claims of an access token.
type AccessClaims struct {
	ClientID string   `json:"client_id"`
	Scope    string   `json:"scope,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Org      string   `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Scopes splits the space separated scope claim.
func (c *AccessClaims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// IDClaims are the OIDC claims of an ID token. Profile and email claims are
// filled only for the matching granted scopes.
type IDClaims struct {
	Nonce         string   `json:"nonce,omitempty"`
	AuthTime      int64    `json:"auth_time,omitempty"`
	Email         string   `json:"email,omitempty"`
	EmailVerified *bool    `json:"email_verified,omitempty"`
	GivenName     string   `json:"given_name,omitempty"`
	FamilyName    string   `json:"family_name,omitempty"`
	Locale        string   `json:"locale,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Org           string   `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// AccessInput describes an access token to issue.
type AccessInput struct {
	Subject  string
	ClientID string
	Scopes   []string
	Roles    []string
	Org      string
	TTL      time.Duration
}

// Issued is a signed token with its lifetime.
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the lifetime in whole seconds.
func (i Issued) ExpiresIn() int64 {
	return int64(i.ExpiresAt.Sub(i.IssuedAt) / time.Second)
}

func NewManager(cfg Config, keys *KeyCache) (*Manager, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	if keys == nil {
		return nil, errors.New("key cache is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	return &Manager{config: cfg, keys: keys, now: time.Now}, nil
}

// Issuer returns the configured iss claim.
func (m *Manager) Issuer() string {
	return m.config.Issuer
}

// CreateAccess signs an access token for in.
func (m *Manager) CreateAccess(ctx context.Context, in AccessInput) (Issued, error) {
	if in.TTL <= 0 {
		return Issued{}, errors.New("invalid access token ttl")
	}
	now := m.now()
	claims := AccessClaims{
		ClientID: in.ClientID,
		Scope:    strings.Join(in.Scopes, " "),
		Roles:    in.Roles,
		Org:      in.Org,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.Subject,
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{in.ClientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(in.TTL)),
			ID:        uuid.NewString(),
		},
	}
	token, err := m.sign(ctx, claims)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, IssuedAt: now, ExpiresAt: now.Add(in.TTL)}, nil
}

// CreateID signs an ID token. Issuer, audience and timestamps are set here.
func (m *Manager) CreateID(ctx context.Context, subject, clientID string, ttl time.Duration, claims IDClaims) (Issued, error) {
	if ttl <= 0 {
		return Issued{}, errors.New("invalid id token ttl")
	}
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.config.Issuer,
		Audience:  jwt.ClaimStrings{clientID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := m.sign(ctx, claims)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, IssuedAt: now, ExpiresAt: now.Add(ttl)}, nil
}

// ParseAccess verifies signature, issuer and lifetime of an access token.
func (m *Manager) ParseAccess(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	set, err := m.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key := set.Lookup(kid)
		if key == nil {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return key.Public(), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		maxAllowed := m.now().Add(m.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, errors.New("token iat too far in the future")
		}
	}
	return claims, nil
}

// Invalidate drops cached keys, used after a rotation.
func (m *Manager) Invalidate() {
	m.keys.Invalidate()
}

func (m *Manager) sign(ctx context.Context, claims jwt.Claims) (string, error) {
	set, err := m.keys.Keys(ctx)
	if err != nil {
		return "", err
	}
	if set.Current == nil {
		return "", ErrKeyUnavailable
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = set.Current.KID
	return token.SignedString(set.Current.Private)
}
