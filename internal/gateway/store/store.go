// Package store abstracts the shared remote counter store used by the
// admission-control engine.
//
// The engine relies only on the atomic-increment contract defined here: every
// increment is atomic at the store and safe under concurrent writers from many
// gateway processes, and a batch applies its net deltas in one round trip.
// The store's wire protocol is otherwise an external concern; the redis
// implementation is one collaborator honoring the contract and the in-memory
// implementation mirrors its semantics for tests and single-process runs.
package store

import (
	"context"
	"time"
)

// BatchOp is one counter mutation within an atomic batch.
type BatchOp struct {
	Key   string
	Delta int64
}

// CounterStore is the consumed interface of the shared counter store.
//
// Counters are created lazily on first increment, clamp at zero on decrement,
// and expire via TTL. Implementations must never assume low, bounded latency
// is available to callers; every method takes a context for cancellation.
type CounterStore interface {
	// Increment atomically adds delta to key and returns the post-increment
	// value, applying ttl when the key is created. Negative deltas clamp the
	// counter at zero.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Get returns the current value of key, with ok=false when the key does
	// not exist.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)

	// Set overwrites key with value and ttl.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// IncrementBatch applies every op's delta in a single atomic multi-key
	// round trip and returns the post-increment value per op, in op order.
	IncrementBatch(ctx context.Context, ops []BatchOp, ttl time.Duration) ([]int64, error)
}
