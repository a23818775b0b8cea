package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
)

// fallbackLimiter enforces a conservative per-credential token bucket while
// the counter store is unreachable.
//
// The engine's default store-outage policy is fail-open: availability over
// strict enforcement. Operators who cannot accept unlimited throughput during
// an outage enable this limiter instead, bounding each credential locally
// until the store recovers. It is consulted only on the fail-open path and is
// disabled by default.
type fallbackLimiter struct {
	rps   float64
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func newFallbackLimiter(cfg configuration.FallbackConfig) *fallbackLimiter {
	return &fallbackLimiter{
		rps:      cfg.RequestsPerSecond,
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// check consumes a token from key's bucket, rejecting with retry timing when
// the bucket is empty.
func (f *fallbackLimiter) check(key string) error {
	limiter := f.getOrCreate(key)

	if !limiter.Allow() {
		// Calculate retry delay without consuming a token to avoid leaking
		// bucket capacity on rejected requests.
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel()

		retryAfter := int(math.Ceil(delay.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}

		return &gwerrors.AdmissionError{
			Scope:      "fallback",
			Identifier: key,
			Dimension:  gwerrors.DimensionRPM,
			Current:    int64(f.rps),
			Limit:      int64(f.rps),
			RetryAfter: retryAfter,
		}
	}
	return nil
}

// getOrCreate uses double-checked locking so the common path takes only a
// read lock.
func (f *fallbackLimiter) getOrCreate(key string) *rate.Limiter {
	f.mu.RLock()
	limiter, ok := f.limiters[key]
	f.mu.RUnlock()
	if ok {
		return limiter
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if limiter, ok = f.limiters[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(f.rps), f.burst)
	f.limiters[key] = limiter
	return limiter
}

// size reports the number of live buckets, for stats.
func (f *fallbackLimiter) size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.limiters)
}
