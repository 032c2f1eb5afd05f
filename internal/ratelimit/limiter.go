package ratelimit

import "context"

// RateLimiter bounds geocoding provider throughput per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
