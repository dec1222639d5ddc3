package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestAllow_FirstRequestAllowed(t *testing.T) {
	t.Parallel()
	_, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, time.Second, 1)

	allowed, err := rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("first request should be allowed")
	}
}

func TestAllow_SecondRequestBlocked(t *testing.T) {
	t.Parallel()
	_, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, time.Minute, 1)

	allowed, err := rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("first request should be allowed")
	}

	allowed, err = rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("second request should be blocked within window")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	_, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, time.Minute, 1)

	for _, key := range []string{"a.example", "b.example"} {
		allowed, err := rl.Allow(context.Background(), key)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", key, err)
		}
		if !allowed {
			t.Errorf("%s: first request should be allowed", key)
		}
	}
}

func TestAllow_WindowExpiry(t *testing.T) {
	t.Parallel()
	_, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, 100*time.Millisecond, 1)

	allowed, err := rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("first request should be allowed")
	}

	time.Sleep(150 * time.Millisecond)

	allowed, err = rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("request after window expiry should be allowed")
	}
}

func TestAllow_LimitGreaterThanOne(t *testing.T) {
	t.Parallel()
	_, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, time.Minute, 3)

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(context.Background(), "example.com")
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed (limit=3)", i)
		}
	}

	allowed, err := rl.Allow(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("fourth request should be blocked (limit=3)")
	}
}

func TestAllow_RedisDown(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestClient(t)
	rl := NewRateLimiter(rdb, time.Minute, 1)
	mr.Close()

	if _, err := rl.Allow(context.Background(), "example.com"); err == nil {
		t.Error("expected error when redis is unreachable")
	}
}
