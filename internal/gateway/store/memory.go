package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore mirroring the redis semantics:
// lazy key creation, clamp-at-zero decrements, TTL expiry, and atomic batches.
// It backs single-process deployments and tests; the injectable clock and
// operation counters exist so tests can assert store interaction precisely.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// now is the clock used for TTL bookkeeping, replaceable in tests.
	now func() time.Time

	// failWith, when set, makes every operation fail with that error.
	failWith error

	incrementCalls int
	batchCalls     int
	getCalls       int
	setCalls       int
}

type memoryEntry struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock used for TTL expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailWith forces every subsequent operation to fail with err.
// Passing nil restores normal operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Increment atomically adds delta to key, clamping at zero.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incrementCalls++
	if s.failWith != nil {
		return 0, s.failWith
	}
	return s.apply(key, delta, ttl), nil
}

// Get returns the current value of key, honoring expiry.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.failWith != nil {
		return 0, false, s.failWith
	}
	entry, ok := s.live(key)
	if !ok {
		return 0, false, nil
	}
	return entry.value, true, nil
}

// Set overwrites key with value and ttl.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setCalls++
	if s.failWith != nil {
		return s.failWith
	}
	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// IncrementBatch applies all ops under one lock acquisition, matching the
// all-or-nothing visibility of the redis MULTI/EXEC batch.
func (s *MemoryStore) IncrementBatch(ctx context.Context, ops []BatchOp, ttl time.Duration) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.batchCalls++
	if s.failWith != nil {
		return nil, s.failWith
	}
	values := make([]int64, len(ops))
	for i, op := range ops {
		values[i] = s.apply(op.Key, op.Delta, ttl)
	}
	return values, nil
}

// Calls reports how many store operations of each kind have been issued.
// Used by tests asserting zero-interaction short circuits.
func (s *MemoryStore) Calls() (increments, batches, gets, sets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementCalls, s.batchCalls, s.getCalls, s.setCalls
}

// Value returns the live value of key without counting as a store call.
func (s *MemoryStore) Value(key string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(key)
	if !ok {
		return 0, false
	}
	return entry.value, true
}

// apply mutates key under the held lock.
func (s *MemoryStore) apply(key string, delta int64, ttl time.Duration) int64 {
	entry, ok := s.live(key)
	if !ok {
		entry = memoryEntry{expiresAt: s.now().Add(ttl)}
	}
	entry.value += delta
	if entry.value < 0 {
		entry.value = 0
	}
	s.entries[key] = entry
	return entry.value
}

// live fetches key, deleting it first if its TTL has lapsed.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}
