package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paydesk/internal/config"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestCheckoutLimiterDeniesAfterBurst(t *testing.T) {
	client, _ := newTestClient(t)
	cfg := config.Config{}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.CheckoutRatePerMinute = 1
	cfg.RateLimit.CheckoutBurst = 2

	limiter, err := NewCheckoutLimiter(cfg, client)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "42")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	res, err := limiter.Allow(ctx, "42")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected third request to be throttled")
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("expected retry after, got %v", res.RetryAfter)
	}

	res, err = limiter.Allow(ctx, "43")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("buckets must be per user")
	}
}

func TestCheckoutLimiterDisabled(t *testing.T) {
	limiter, err := NewCheckoutLimiter(config.Config{}, nil)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if limiter.Enabled() {
		t.Fatalf("expected disabled limiter")
	}
	res, err := limiter.Allow(context.Background(), "1")
	if err != nil || !res.Allowed {
		t.Fatalf("disabled limiter must allow, got %+v %v", res, err)
	}

	cfg := config.Config{}
	cfg.RateLimit.Enabled = true
	if _, err := NewCheckoutLimiter(cfg, nil); err == nil {
		t.Fatalf("expected error without redis")
	}
}

func TestLockerSingleHolder(t *testing.T) {
	client, server := newTestClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lock:reconcile", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock should succeed: ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.TryLock(ctx, "lock:reconcile", time.Minute); err != nil || ok {
		t.Fatalf("second lock should fail: ok=%v err=%v", ok, err)
	}

	if err := locker.Release(ctx, "lock:reconcile", "not-the-token"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !server.Exists("lock:reconcile") {
		t.Fatalf("foreign token must not release the lock")
	}

	if err := locker.Release(ctx, "lock:reconcile", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if server.Exists("lock:reconcile") {
		t.Fatalf("expected lock released")
	}
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	if _, _, err := locker.TryLock(context.Background(), "k", time.Second); err != ErrLockNotConfigured {
		t.Fatalf("expected ErrLockNotConfigured, got %v", err)
	}
	if err := locker.Release(context.Background(), "k", "t"); err != nil {
		t.Fatalf("nil release should be a no-op, got %v", err)
	}
}
