package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token-bucket limiter used when no Redis
// instance is configured. Only valid for single-instance deployments; a
// multi-instance fleet needs the Redis limiter to share one budget.
type LocalRateLimiter struct {
	limitPerSec float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec < 1 {
		limitPerSec = 1
	}

	return &LocalRateLimiter{
		limitPerSec: float64(limitPerSec),
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.limiter(key).Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return l.limiter(key).Wait(ctx)
}

func (l *LocalRateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		burst := int(l.limitPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(l.limitPerSec), burst)
		l.limiters[key] = limiter
	}
	return limiter
}
