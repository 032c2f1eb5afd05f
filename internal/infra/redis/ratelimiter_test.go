package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		2,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "nominatim")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("first call should be allowed")
	}

	allowed, err = limiter.Allow(context.Background(), "nominatim")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("second call should be allowed")
	}

	allowed, err = limiter.Allow(context.Background(), "nominatim")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by rate limit")
	}
}

func TestRedisRateLimiterAllowPerKey(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		sleepWithContext,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	allowed, err := limiter.Allow(context.Background(), "nominatim")
	if err != nil || !allowed {
		t.Fatalf("Allow(nominatim) = %v, %v; want true", allowed, err)
	}

	allowed, err = limiter.Allow(context.Background(), "nominatim")
	if err != nil || allowed {
		t.Fatalf("second Allow(nominatim) = %v, %v; want false", allowed, err)
	}

	// A different key keeps its own window.
	allowed, err = limiter.Allow(context.Background(), "google")
	if err != nil || !allowed {
		t.Fatalf("Allow(google) = %v, %v; want true", allowed, err)
	}
}

func TestRedisRateLimiterWait(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	var slept int
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept++
			// Advance into the next window so the retry succeeds.
			now = now.Add(time.Second)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "nominatim"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "nominatim"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if slept == 0 {
		t.Fatal("second Wait() should have slept at least once")
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		nil,
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "nominatim"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = limiter.Wait(ctx, "nominatim")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return client
}
