package jwt

import (
	"context"
	"sync"
	"time"
)

// KeySet is a snapshot of the keys a token service signs and verifies with.
type KeySet struct {
	Current    *SigningKey
	Deprecated *SigningKey
}

// Lookup returns the key with the given kid, or nil.
func (s *KeySet) Lookup(kid string) *SigningKey {
	if s == nil || kid == "" {
		return nil
	}
	if s.Current != nil && s.Current.KID == kid {
		return s.Current
	}
	if s.Deprecated != nil && s.Deprecated.KID == kid {
		return s.Deprecated
	}
	return nil
}

// All returns the keys present in the set, current first.
func (s *KeySet) All() []*SigningKey {
	out := make([]*SigningKey, 0, 2)
	if s.Current != nil {
		out = append(out, s.Current)
	}
	if s.Deprecated != nil {
		out = append(out, s.Deprecated)
	}
	return out
}

// KeyCache keeps a KeySet loaded from a KeySource for ttl. It is owned by
// one Manager; the clock is injected so expiry can be tested.
type KeyCache struct {
	source KeySource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	set      *KeySet
	loadedAt time.Time
}

func NewKeyCache(source KeySource, ttl time.Duration, now func() time.Time) *KeyCache {
	if now == nil {
		now = time.Now
	}
	return &KeyCache{source: source, ttl: ttl, now: now}
}

// Keys returns the cached set, reloading it once ttl has passed.
func (c *KeyCache) Keys(ctx context.Context) (*KeySet, error) {
	c.mu.RLock()
	set, loadedAt := c.set, c.loadedAt
	c.mu.RUnlock()
	if set != nil && c.now().Sub(loadedAt) < c.ttl {
		return set, nil
	}
	return c.reload(ctx)
}

// Invalidate drops the cached set so the next call reloads it.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.set = nil
	c.mu.Unlock()
}

func (c *KeyCache) reload(ctx context.Context) (*KeySet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return c.set, nil
	}

	current, err := c.source.Current(ctx)
	if err != nil {
		return nil, err
	}
	deprecated, err := c.source.Deprecated(ctx)
	if err != nil {
		return nil, err
	}
	c.set = &KeySet{Current: current, Deprecated: deprecated}
	c.loadedAt = c.now()
	return c.set, nil
}
