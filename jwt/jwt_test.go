package jwt

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goIdP/kv"
	"github.com/alicebob/miniredis/v2"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T) (*KeyRing, *kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := kv.New(rdb, "")
	return NewKeyRing(store, time.Hour), store
}

func newTestManager(t *testing.T, ring KeySource) *Manager {
	t.Helper()
	m, err := NewManager(Config{Issuer: "https://id.example.com"}, NewKeyCache(ring, time.Minute, nil))
	require.NoError(t, err)
	return m
}

type countingSource struct {
	inner KeySource
	calls int32
}

func (c *countingSource) Current(ctx context.Context) (*SigningKey, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Current(ctx)
}

func (c *countingSource) Deprecated(ctx context.Context) (*SigningKey, error) {
	return c.inner.Deprecated(ctx)
}

func TestKeyRingSharesKeyAcrossInstances(t *testing.T) {
	ring, store := newTestRing(t)
	ctx := context.Background()

	first, err := ring.Current(ctx)
	require.NoError(t, err)

	other := NewKeyRing(store, time.Hour)
	second, err := other.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.KID, second.KID)
	assert.True(t, first.Private.Equal(second.Private))

	dep, err := ring.Deprecated(ctx)
	require.NoError(t, err)
	assert.Nil(t, dep)
}

func TestRotateKeepsOldKeyVerifiable(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	m := newTestManager(t, ring)

	issued, err := m.CreateAccess(ctx, AccessInput{Subject: "auth-1", ClientID: "c1", Scopes: []string{"openid"}, TTL: time.Minute})
	require.NoError(t, err)

	oldKey, err := ring.Current(ctx)
	require.NoError(t, err)
	newKey, err := ring.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldKey.KID, newKey.KID)
	m.Invalidate()

	claims, err := m.ParseAccess(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "auth-1", claims.Subject)

	fresh, err := m.CreateAccess(ctx, AccessInput{Subject: "auth-1", ClientID: "c1", TTL: time.Minute})
	require.NoError(t, err)
	parsed, _, err := gjwt.NewParser().ParseUnverified(fresh.Token, &AccessClaims{})
	require.NoError(t, err)
	assert.Equal(t, newKey.KID, parsed.Header["kid"])
}

func TestKeyCacheHonorsTTL(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	source := &countingSource{inner: ring}
	now := time.Unix(1_700_000_000, 0)
	cache := NewKeyCache(source, time.Minute, func() time.Time { return now })

	_, err := cache.Keys(ctx)
	require.NoError(t, err)
	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&source.calls))

	now = now.Add(61 * time.Second)
	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&source.calls))

	cache.Invalidate()
	_, err = cache.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&source.calls))
}

func TestAccessTokenClaimsAndExpiry(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	m := newTestManager(t, ring)
	now := time.Now()
	m.now = func() time.Time { return now }

	issued, err := m.CreateAccess(ctx, AccessInput{
		Subject:  "auth-9",
		ClientID: "spa",
		Scopes:   []string{"openid", "profile"},
		Roles:    []string{"admin"},
		TTL:      30 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1800), issued.ExpiresIn())

	claims, err := m.ParseAccess(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile"}, claims.Scopes())
	assert.Equal(t, "spa", claims.ClientID)
	assert.Equal(t, []string{"admin"}, claims.Roles)

	now = now.Add(31 * time.Minute)
	_, err = m.ParseAccess(ctx, issued.Token)
	assert.ErrorIs(t, err, gjwt.ErrTokenExpired)
}

func TestParseAccessRejectsForeignTokens(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	m := newTestManager(t, ring)

	hs := gjwt.NewWithClaims(gjwt.SigningMethodHS256, AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "https://id.example.com",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	hs.Header["kid"] = "whatever"
	token, err := hs.SignedString([]byte("secret-secret-secret-secret"))
	require.NoError(t, err)
	_, err = m.ParseAccess(ctx, token)
	assert.Error(t, err)

	other, err := NewManager(Config{Issuer: "https://other.example.com"}, NewKeyCache(ring, time.Minute, nil))
	require.NoError(t, err)
	foreign, err := other.CreateAccess(ctx, AccessInput{Subject: "x", ClientID: "c", TTL: time.Minute})
	require.NoError(t, err)
	_, err = m.ParseAccess(ctx, foreign.Token)
	assert.ErrorIs(t, err, gjwt.ErrTokenInvalidIssuer)
}

func TestIDTokenCarriesNonceAndAudience(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	m := newTestManager(t, ring)

	issued, err := m.CreateID(ctx, "auth-1", "spa", time.Hour, IDClaims{Nonce: "n-1", Email: "a@example.com"})
	require.NoError(t, err)

	parsed, _, err := gjwt.NewParser().ParseUnverified(issued.Token, &IDClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(*IDClaims)
	assert.Equal(t, "n-1", claims.Nonce)
	assert.Equal(t, gjwt.ClaimStrings{"spa"}, claims.Audience)
	assert.Equal(t, "https://id.example.com", claims.Issuer)
}

func TestJWKSListsCurrentAndDeprecatedKeys(t *testing.T) {
	ring, _ := newTestRing(t)
	ctx := context.Background()
	m := newTestManager(t, ring)

	current, err := ring.Current(ctx)
	require.NoError(t, err)
	rotated, err := ring.Rotate(ctx)
	require.NoError(t, err)
	m.Invalidate()

	data, err := m.JWKS(ctx)
	require.NoError(t, err)

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			Alg string `json:"alg"`
			Use string `json:"use"`
			D   string `json:"d"`
		} `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Keys, 2)
	assert.Equal(t, rotated.KID, doc.Keys[0].Kid)
	assert.Equal(t, current.KID, doc.Keys[1].Kid)
	for _, k := range doc.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "RS256", k.Alg)
		assert.Equal(t, "sig", k.Use)
		assert.Empty(t, k.D, "private exponent must not be published")
	}
}
