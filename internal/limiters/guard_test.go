package limiters

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/goIdP/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newGuardStore(t *testing.T) (*kv.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return kv.New(rdb, ""), mr
}

func TestGuardRejectsAttemptAfterThreshold(t *testing.T) {
	store, _ := newGuardStore(t)
	g := NewGuard(store, Policy{Namespace: kv.SmsMfaMessageAttemptsKey, Threshold: 3, Window: 30 * time.Minute})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := g.CheckAndIncrement(ctx, "code-1")
		if err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}
		if !d.Allowed || d.Count != int64(i) {
			t.Fatalf("attempt %d expected allowed with count %d, got %+v", i, i, d)
		}
	}

	d, err := g.CheckAndIncrement(ctx, "code-1")
	if err != nil {
		t.Fatalf("fourth attempt failed: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected fourth attempt to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Minute {
		t.Fatalf("expected retry-after within window, got %v", d.RetryAfter)
	}

	other, err := g.CheckAndIncrement(ctx, "code-2")
	if err != nil || !other.Allowed {
		t.Fatalf("expected independent subject to be allowed, got %+v err=%v", other, err)
	}
}

func TestGuardCheckLocksAtThreshold(t *testing.T) {
	store, mr := newGuardStore(t)
	g := NewGuard(store, Policy{Namespace: kv.FailedLoginAttemptsKey, Threshold: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if d, _ := g.Check(ctx, "a@example.com"); !d.Allowed {
			t.Fatalf("check %d expected allowed", i)
		}
		if _, err := g.Increment(ctx, "a@example.com"); err != nil {
			t.Fatalf("increment failed: %v", err)
		}
	}
	if d, _ := g.Check(ctx, "a@example.com"); d.Allowed {
		t.Fatal("expected subject locked after threshold failures")
	}
	if !mr.Exists(kv.FailedLoginAttemptsKey + "a@example.com") {
		t.Fatal("expected counter key")
	}

	mr.FastForward(2 * time.Minute)
	if d, _ := g.Check(ctx, "a@example.com"); !d.Allowed {
		t.Fatal("expected lockout to self-heal after window")
	}
}

func TestGuardClear(t *testing.T) {
	store, mr := newGuardStore(t)
	g := NewGuard(store, Policy{Namespace: kv.FailedLoginAttemptsKey, Threshold: 1, Window: time.Minute})
	ctx := context.Background()

	_, _ = g.Increment(ctx, "x")
	if err := g.Clear(ctx, "x"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if mr.Exists(kv.FailedLoginAttemptsKey + "x") {
		t.Fatal("expected counter removed")
	}
}

func TestGuardThresholdZeroNeverBlocks(t *testing.T) {
	store, mr := newGuardStore(t)
	g := NewGuard(store, Policy{Namespace: kv.FailedLoginAttemptsKey, Threshold: 0, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		d, err := g.CheckAndIncrement(ctx, "user@example.com")
		if err != nil || !d.Allowed {
			t.Fatalf("attempt %d expected allowed, got %+v err=%v", i, d, err)
		}
		if d, _ := g.Check(ctx, "user@example.com"); !d.Allowed {
			t.Fatalf("check %d expected allowed", i)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no counters written, got %v", mr.Keys())
	}
}

func TestNilGuardIsDisabled(t *testing.T) {
	var g *Guard
	d, err := g.CheckAndIncrement(context.Background(), "s")
	if err != nil || !d.Allowed {
		t.Fatalf("expected nil guard to allow, got %+v err=%v", d, err)
	}
	if err := g.Clear(context.Background(), "s"); err != nil {
		t.Fatalf("expected nil guard clear to be a no-op, got %v", err)
	}
}
