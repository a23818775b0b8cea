// Package configuration holds the strongly typed configuration for the
// admission-control engine.
//
// Limit values come from an external credential store and are validated once
// when first read; a missing limit means the dimension is not enforced, while
// a limit of exactly zero means "always reject". The engine never interprets
// ad hoc maps at call sites.
package configuration

import (
	"time"

	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
)

// LimitSet is the per-identity rate-limit configuration for one scope.
//
// Nil pointers mean the dimension is not enforced. A value of exactly zero
// means "always reject", which short-circuits admission without any store
// interaction. ModelLimits carries per-model overrides and is only consulted
// for the credential scope.
type LimitSet struct {
	// MaxParallelRequests caps concurrent in-flight requests. Only meaningful
	// for the credential scope; other scopes ignore it.
	MaxParallelRequests *int64 `json:"max_parallel_requests,omitempty" yaml:"max_parallel_requests,omitempty"`

	// RPMLimit caps requests per minute bucket.
	RPMLimit *int64 `json:"rpm_limit,omitempty" yaml:"rpm_limit,omitempty"`

	// TPMLimit caps tokens per minute bucket.
	TPMLimit *int64 `json:"tpm_limit,omitempty" yaml:"tpm_limit,omitempty"`

	// ModelLimits holds per-model overrides keyed by model name.
	ModelLimits map[string]LimitSet `json:"model_limits,omitempty" yaml:"model_limits,omitempty"`
}

// Empty reports whether no dimension is configured on this set.
// Model overrides do not count; they configure a different scope.
func (l LimitSet) Empty() bool {
	return l.MaxParallelRequests == nil && l.RPMLimit == nil && l.TPMLimit == nil
}

// ForModel returns the explicit per-model override for model, if one exists.
// Absence of an override means the per-model scope is not evaluated at all.
func (l LimitSet) ForModel(model string) (LimitSet, bool) {
	if model == "" || l.ModelLimits == nil {
		return LimitSet{}, false
	}
	override, ok := l.ModelLimits[model]
	return override, ok
}

// Validate raises a ConfigError eagerly for malformed limit values.
// Negative limits are always configuration mistakes; zero is a valid
// "always reject" value and unset dimensions are simply not enforced.
func (l LimitSet) Validate() error {
	if err := validateLimitValue("max_parallel_requests", l.MaxParallelRequests); err != nil {
		return err
	}
	if err := validateLimitValue("rpm_limit", l.RPMLimit); err != nil {
		return err
	}
	if err := validateLimitValue("tpm_limit", l.TPMLimit); err != nil {
		return err
	}
	for model, override := range l.ModelLimits {
		if err := override.Validate(); err != nil {
			return &gwerrors.ConfigError{
				Field:   "model_limits." + model,
				Value:   model,
				Message: err.Error(),
			}
		}
	}
	return nil
}

func validateLimitValue(field string, v *int64) error {
	if v != nil && *v < 0 {
		return &gwerrors.ConfigError{
			Field:   field,
			Value:   *v,
			Message: "limit cannot be negative",
		}
	}
	return nil
}

// Limit is a convenience constructor for pointer-valued limit fields.
func Limit(v int64) *int64 { return &v }

// BatchConfig controls the batched increment strategy that coalesces counter
// updates into periodic store round trips.
type BatchConfig struct {
	// FlushInterval is the tick at which buffered deltas are flushed in a
	// single batch. Bounds store round trips to a constant rate regardless
	// of request volume.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// FlushTimeout bounds each batch round trip to the store.
	FlushTimeout time.Duration `json:"flush_timeout" yaml:"flush_timeout"`

	// CounterTTL is the time-to-live applied to every counter key so minute
	// buckets expire on their own after rollover.
	CounterTTL time.Duration `json:"counter_ttl" yaml:"counter_ttl"`
}

// GateConfig controls the process-local concurrency gate evaluated before any
// distributed check. It deliberately under-counts fleet-wide concurrency; it
// protects a single process's resource ceiling without a store round trip.
type GateConfig struct {
	Enabled     bool  `json:"enabled" yaml:"enabled"`
	MaxInFlight int64 `json:"max_in_flight" yaml:"max_in_flight"`
}

// FallbackConfig controls the local token-bucket limiter consulted only while
// the counter store is unreachable. Disabled by default so fail-open remains
// the default policy for store outages.
type FallbackConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" yaml:"burst"`
}

// RedisConfig holds connection settings for the shared counter store.
type RedisConfig struct {
	Addr           string        `json:"addr" yaml:"addr"`
	Password       string        `json:"-" yaml:"password"` // Sensitive, not serialized
	DB             int           `json:"db" yaml:"db"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout" yaml:"write_timeout"`
	PoolSize       int           `json:"pool_size" yaml:"pool_size"`
}

// Config aggregates all admission-control engine settings.
type Config struct {
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
	Gate     GateConfig     `json:"gate" yaml:"gate"`
	Fallback FallbackConfig `json:"fallback" yaml:"fallback"`
}

// Validate checks engine settings, applying defaults for unset durations.
func (c *Config) Validate() error {
	if c.Batch.FlushInterval < 0 {
		return &gwerrors.ConfigError{Field: "batch.flush_interval", Value: c.Batch.FlushInterval, Message: "interval cannot be negative"}
	}
	if c.Batch.CounterTTL < 0 {
		return &gwerrors.ConfigError{Field: "batch.counter_ttl", Value: c.Batch.CounterTTL, Message: "ttl cannot be negative"}
	}
	if c.Gate.Enabled && c.Gate.MaxInFlight < 0 {
		return &gwerrors.ConfigError{Field: "gate.max_in_flight", Value: c.Gate.MaxInFlight, Message: "limit cannot be negative"}
	}
	if c.Fallback.Enabled && c.Fallback.RequestsPerSecond <= 0 {
		return &gwerrors.ConfigError{Field: "fallback.requests_per_second", Value: c.Fallback.RequestsPerSecond, Message: "rate must be positive when fallback is enabled"}
	}
	return nil
}
