package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdP/kv"
)

var (
	// ErrGuardUnavailable indicates the counter backend is unreachable.
	ErrGuardUnavailable = errors.New("guard backend unavailable")
)

// Policy configures one guard. Threshold 0 disables the guard entirely.
type Policy struct {
	Namespace string
	Threshold int
	Window    time.Duration
}

// Decision is the outcome of a guard evaluation.
type Decision struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Guard is a fixed-window threshold counter keyed by subject
// (an email, an auth code, an auth id).
type Guard struct {
	store  *kv.Store
	policy Policy
}

// NewGuard creates a guard over store.
func NewGuard(store *kv.Store, policy Policy) *Guard {
	return &Guard{store: store, policy: policy}
}

// Enabled reports whether the guard counts anything.
func (g *Guard) Enabled() bool {
	return g != nil && g.store != nil && g.policy.Threshold > 0
}

// Threshold returns the configured threshold.
func (g *Guard) Threshold() int {
	if g == nil {
		return 0
	}
	return g.policy.Threshold
}

// Window returns the lockout window.
func (g *Guard) Window() time.Duration {
	if g == nil {
		return 0
	}
	return g.policy.Window
}

func (g *Guard) key(subject string) string {
	return g.policy.Namespace + subject
}

// CheckAndIncrement counts one attempt and reports whether it is within the
// threshold. With threshold N the (N+1)th call inside the window is rejected.
func (g *Guard) CheckAndIncrement(ctx context.Context, subject string) (Decision, error) {
	return g.Increment(ctx, subject)
}

// Check reports whether another attempt is allowed without counting it.
// The subject is locked once N attempts were counted.
func (g *Guard) Check(ctx context.Context, subject string) (Decision, error) {
	if !g.Enabled() || subject == "" {
		return Decision{Allowed: true}, nil
	}

	count, err := g.store.Count(ctx, g.key(subject))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if count < int64(g.policy.Threshold) {
		return Decision{Allowed: true, Count: count}, nil
	}
	return Decision{Allowed: false, Count: count, RetryAfter: g.retryAfter(ctx, subject)}, nil
}

// Increment counts one attempt.
func (g *Guard) Increment(ctx context.Context, subject string) (Decision, error) {
	if !g.Enabled() || subject == "" {
		return Decision{Allowed: true}, nil
	}

	count, err := g.store.Incr(ctx, g.key(subject), g.policy.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	if count <= int64(g.policy.Threshold) {
		return Decision{Allowed: true, Count: count}, nil
	}
	return Decision{Allowed: false, Count: count, RetryAfter: g.retryAfter(ctx, subject)}, nil
}

// Clear resets the counter for subject.
func (g *Guard) Clear(ctx context.Context, subject string) error {
	if !g.Enabled() || subject == "" {
		return nil
	}
	if _, err := g.store.Delete(ctx, g.key(subject)); err != nil {
		return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
	}
	return nil
}

func (g *Guard) retryAfter(ctx context.Context, subject string) time.Duration {
	ttl, err := g.store.TTL(ctx, g.key(subject))
	if err != nil || ttl <= 0 {
		return g.policy.Window
	}
	return ttl
}
