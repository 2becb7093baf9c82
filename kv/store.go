package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 4

var (
	// ErrNotFound is returned when a key does not exist or already expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps every Redis failure.
	ErrUnavailable = errors.New("kv: backend unavailable")
	// ErrContention is returned when Update loses every optimistic retry.
	ErrContention = errors.New("kv: update contention")
)

// Fixed window: the first hit of a window sets the TTL. A counter that lost
// its TTL (written by an older client) gets one again.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Store is a Redis-backed key/value store with TTL support.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a store that namespaces every key with prefix.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{redis: client, prefix: prefix}
}

// Key returns the fully qualified key.
func (s *Store) Key(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// Set writes value. A zero ttl stores the key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.Key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetNX writes value only when key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.Key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Delete removes keys and returns how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.Key(k)
	}
	n, err := s.redis.Del(ctx, full...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Take atomically reads and deletes key. Of any number of concurrent callers
// at most one observes the value; the others get ErrNotFound.
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return data, nil
}

// Incr increments a fixed-window counter and returns the new count.
func (s *Store) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if window <= 0 {
		return 0, errors.New("kv: counter window must be > 0")
	}
	n, err := incrScript.Run(ctx, s.redis, []string{s.Key(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Count reads a counter. Missing and negative counters read as zero.
func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.redis.Get(ctx, s.Key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// TTL returns the remaining lifetime of key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl == -2 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

func (s *Store) GetJSON(ctx context.Context, key string, out any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, data, ttl)
}

// Update runs fn against the current value and writes its result back while
// keeping the remaining TTL. Concurrent writers are detected with WATCH and
// the update is retried. An error returned by fn aborts without writing.
func (s *Store) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	full := s.Key(key)

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, full).Bytes()
			if err != nil {
				return err
			}
			ttl, err := tx.PTTL(ctx, full).Result()
			if err != nil {
				return err
			}
			if ttl == -2 {
				return redis.Nil
			}
			if ttl < 0 {
				ttl = redis.KeepTTL
			}

			updated, err := fn(data)
			if err != nil {
				return abortError{err: err}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, full, updated, ttl)
				return nil
			})
			return err
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			var abort abortError
			if errors.As(err, &abort) {
				return abort.err
			}
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	return ErrContention
}

// abortError carries a caller error out of a WATCH callback untouched.
type abortError struct {
	err error
}

func (a abortError) Error() string { return a.err.Error() }

// UpdateJSON decodes the stored value into a fresh T, applies fn and stores it back.
func UpdateJSON[T any](ctx context.Context, s *Store, key string, fn func(*T) error) (*T, error) {
	var out *T
	err := s.Update(ctx, key, func(data []byte) ([]byte, error) {
		record := new(T)
		if err := json.Unmarshal(data, record); err != nil {
			return nil, err
		}
		if err := fn(record); err != nil {
			return nil, err
		}
		out = record
		return json.Marshal(record)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
