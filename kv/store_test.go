package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
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
	return New(rdb, "t:"), mr
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetHonorsTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if !mr.Exists("t:k") {
		t.Fatal("expected prefixed key to exist")
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestTakeIsAtMostOnceUnderConcurrency(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "once", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := s.Take(ctx, "once")
			if err == nil && string(data) == "payload" {
				wins.Add(1)
				return
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestIncrSetsWindowOnFirstHit(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "ctr", 30*time.Minute)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}
	if ttl := mr.TTL("t:ctr"); ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("expected counter ttl within window, got %v", ttl)
	}

	mr.FastForward(31 * time.Minute)
	n, err := s.Count(ctx, "ctr")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected counter to self-heal, got %d", n)
	}
}

func TestIncrRestoresMissingTTL(t *testing.T) {
	s, mr := newTestStore(t)
	if err := mr.Set("t:ctr", "4"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := s.Incr(context.Background(), "ctr", time.Minute); err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if mr.TTL("t:ctr") <= 0 {
		t.Fatal("expected counter without ttl to receive one")
	}
}

func TestCountNeverNegative(t *testing.T) {
	s, mr := newTestStore(t)
	if err := mr.Set("t:neg", "-3"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	n, err := s.Count(context.Background(), "neg")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero, got %d", n)
	}
}

func TestUpdateKeepsRemainingTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	if err := s.Set(ctx, "rec", []byte("a"), 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	err := s.Update(ctx, "rec", func(data []byte) ([]byte, error) {
		return append(data, 'b'), nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := s.Get(ctx, "rec")
	if string(got) != "ab" {
		t.Fatalf("expected updated value, got %q", got)
	}
	if ttl := mr.TTL("t:rec"); ttl > 3*time.Minute || ttl <= 0 {
		t.Fatalf("expected remaining ttl to be preserved, got %v", ttl)
	}
}

func TestUpdatePropagatesCallbackError(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "rec", []byte("a"), time.Minute)

	sentinel := errors.New("stop")
	err := s.Update(ctx, "rec", func([]byte) ([]byte, error) { return nil, sentinel })
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _ := s.Get(ctx, "rec")
	if string(got) != "a" {
		t.Fatalf("expected value untouched, got %q", got)
	}
}

func TestUpdateMissingKey(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Update(context.Background(), "nope", func(b []byte) ([]byte, error) { return b, nil })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateJSON(t *testing.T) {
	type record struct {
		N int `json:"n"`
	}
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.SetJSON(ctx, "j", record{N: 1}, time.Minute); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	out, err := UpdateJSON(ctx, s, "j", func(r *record) error {
		r.N++
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJSON failed: %v", err)
	}
	if out.N != 2 {
		t.Fatalf("expected 2, got %d", out.N)
	}
	var stored record
	if err := s.GetJSON(ctx, "j", &stored); err != nil || stored.N != 2 {
		t.Fatalf("expected stored 2, got %+v err=%v", stored, err)
	}
}
