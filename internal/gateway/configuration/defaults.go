package configuration

import (
	"time"
)

// Batched increment constants.
const (
	// DefaultFlushInterval is the batch tick. Ten milliseconds trades at most
	// one tick of added admission latency for a constant store round-trip rate.
	DefaultFlushInterval = 10 * time.Millisecond

	// DefaultFlushTimeout bounds each batch round trip to the store.
	DefaultFlushTimeout = 2 * time.Second

	// DefaultCounterTTL expires minute-bucket counters shortly after rollover.
	DefaultCounterTTL = 60 * time.Second
)

// Redis connection constants.
const (
	DefaultConnectTimeout      = 5 * time.Second
	DefaultReadTimeoutSeconds  = 5
	DefaultWriteTimeoutSeconds = 5
	DefaultPoolSize            = 10
)

// Fallback limiter constants.
const (
	// DefaultFallbackRate provides a conservative per-process rate while the
	// counter store is unreachable, when the fallback limiter is enabled.
	DefaultFallbackRate  = 10
	DefaultFallbackBurst = 10
)

// DefaultConfig returns production-ready engine configuration.
// The concurrency gate and fallback limiter start disabled; distributed
// enforcement with fail-open store semantics is the baseline behavior.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			ConnectTimeout: DefaultConnectTimeout,
			ReadTimeout:    DefaultReadTimeoutSeconds * time.Second,
			WriteTimeout:   DefaultWriteTimeoutSeconds * time.Second,
			PoolSize:       DefaultPoolSize,
		},
		Batch: BatchConfig{
			FlushInterval: DefaultFlushInterval,
			FlushTimeout:  DefaultFlushTimeout,
			CounterTTL:    DefaultCounterTTL,
		},
		Gate: GateConfig{
			Enabled: false,
		},
		Fallback: FallbackConfig{
			Enabled:           false,
			RequestsPerSecond: DefaultFallbackRate,
			Burst:             DefaultFallbackBurst,
		},
	}
}

// ApplyDefaults fills unset engine durations with production defaults.
// Explicit zero durations are treated as unset; limits are never defaulted.
func (c *Config) ApplyDefaults() {
	if c.Batch.FlushInterval == 0 {
		c.Batch.FlushInterval = DefaultFlushInterval
	}
	if c.Batch.FlushTimeout == 0 {
		c.Batch.FlushTimeout = DefaultFlushTimeout
	}
	if c.Batch.CounterTTL == 0 {
		c.Batch.CounterTTL = DefaultCounterTTL
	}
	if c.Redis.ConnectTimeout == 0 {
		c.Redis.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = DefaultReadTimeoutSeconds * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = DefaultWriteTimeoutSeconds * time.Second
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultPoolSize
	}
}
