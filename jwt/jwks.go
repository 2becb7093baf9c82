package jwt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKS returns the public keys as a JSON Web Key Set, current key first.
func (m *Manager) JWKS(ctx context.Context) ([]byte, error) {
	keys, err := m.keys.Keys(ctx)
	if err != nil {
		return nil, err
	}

	set := jwk.NewSet()
	for _, key := range keys.All() {
		pub, err := jwk.FromRaw(key.Public())
		if err != nil {
			return nil, fmt.Errorf("jwk from key %s: %w", key.KID, err)
		}
		if err := pub.Set(jwk.KeyIDKey, key.KID); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := pub.Set(jwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := set.AddKey(pub); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}
