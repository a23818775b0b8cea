package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
	"github.com/ahrav/go-llmgate/internal/gateway/store"
)

// countingHandler counts slog records at or above Warn, so tests can assert
// the once-per-tick logging contract on flush failures.
type countingHandler struct {
	mu    sync.Mutex
	warns int
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		h.mu.Lock()
		h.warns++
		h.mu.Unlock()
	}
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) warnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.warns
}

// newTestBatcher builds a batcher whose ticker never fires within the test
// window; flushes are driven explicitly so tests stay deterministic.
func newTestBatcher(st store.CounterStore) *Batcher {
	return NewBatcher(st, configuration.BatchConfig{
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
		CounterTTL:    time.Minute,
	}, slog.New(slog.NewTextHandler(testWriter{}, nil)), nil)
}

// testWriter discards log output.
type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestBatcher_CoalescesOneRoundTripPerTick(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	// Many submissions across two keys, all within one tick.
	for i := 0; i < 10; i++ {
		b.Submit("gateway:ratelimit:key:a:bucket:rpm", 1)
	}
	for i := 0; i < 5; i++ {
		b.Submit("gateway:ratelimit:key:b:bucket:rpm", 1)
	}

	b.flush(context.Background())

	_, batches, _, _ := st.Calls()
	assert.Equal(t, 1, batches, "one tick must issue exactly one batch")

	va, ok := st.Value("gateway:ratelimit:key:a:bucket:rpm")
	require.True(t, ok)
	assert.EqualValues(t, 10, va)
	vb, ok := st.Value("gateway:ratelimit:key:b:bucket:rpm")
	require.True(t, ok)
	assert.EqualValues(t, 5, vb)
}

// Every submitter within a tick must observe a distinct post-increment value
// in submission order, exactly as if the increments had been issued serially.
func TestBatcher_PerSubmissionValues(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	const n = 7
	futures := make([]*IncrementFuture, n)
	for i := range futures {
		futures[i] = b.Submit("k", 1)
	}

	b.flush(context.Background())

	for i, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.EqualValues(t, i+1, v)
	}
}

func TestBatcher_PerSubmissionValuesWithPriorCounterState(t *testing.T) {
	st := store.NewMemoryStore()
	// Another process already pushed the counter to 40.
	_, err := st.Increment(context.Background(), "k", 40, time.Minute)
	require.NoError(t, err)

	b := newTestBatcher(st)
	f1 := b.Submit("k", 1)
	f2 := b.Submit("k", 1)
	b.flush(context.Background())

	v1, err := f1.Wait(context.Background())
	require.NoError(t, err)
	v2, err := f2.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 41, v1)
	assert.EqualValues(t, 42, v2)
}

func TestBatcher_MixedDeltasClampAtZero(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	fDec := b.Submit("k", -1) // decrement of a fresh counter
	fInc := b.Submit("k", 1)
	b.flush(context.Background())

	vDec, err := fDec.Wait(context.Background())
	require.NoError(t, err)
	vInc, err := fInc.Wait(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 0, vDec, "decrement below zero clamps")
	assert.EqualValues(t, 1, vInc)

	v, ok := st.Value("k")
	require.True(t, ok)
	assert.EqualValues(t, 0, v, "net of -1+1 on a fresh counter clamps to zero")
}

func TestBatcher_ZeroDeltaReadsCurrentValue(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.Increment(context.Background(), "k", 9, time.Minute)
	require.NoError(t, err)

	b := newTestBatcher(st)
	f := b.Submit("k", 0)
	b.flush(context.Background())

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 9, v)
}

// A failed tick rejects every future with a store-unavailable error, drops
// the deltas permanently, and logs exactly once.
func TestBatcher_FlushFailureDropsTickAndLogsOnce(t *testing.T) {
	st := store.NewMemoryStore()
	handler := &countingHandler{}
	b := NewBatcher(st, configuration.BatchConfig{
		FlushInterval: time.Hour,
		FlushTimeout:  time.Second,
		CounterTTL:    time.Minute,
	}, slog.New(handler), nil)

	st.FailWith(errors.New("connection refused"))

	futures := make([]*IncrementFuture, 4)
	for i := range futures {
		futures[i] = b.Submit("k", 1)
	}
	b.flush(context.Background())

	for _, f := range futures {
		_, err := f.Wait(context.Background())
		require.Error(t, err)
		assert.True(t, gwerrors.IsStoreUnavailable(err))
	}
	assert.Equal(t, 1, handler.warnCount(), "one log line per failed tick")

	// Recovery: the dropped deltas must not be replayed on the next tick.
	st.FailWith(nil)
	f := b.Submit("k", 1)
	b.flush(context.Background())

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, v, "failed tick's deltas must not resurface")

	stats := b.Stats()
	assert.EqualValues(t, 2, stats.Flushes)
	assert.EqualValues(t, 1, stats.FlushFailures)
}

func TestBatcher_WaitHonorsContextCancellation(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	f := b.Submit("k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The increment itself still flushes.
	b.flush(context.Background())
	v, ok := st.Value("k")
	require.True(t, ok)
	assert.EqualValues(t, 1, v)
}

func TestBatcher_StopDrainsBufferedIncrements(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)
	b.Start()

	f := b.Submit("k", 3)
	b.Stop()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)

	// Stop is idempotent.
	b.Stop()
}

func TestBatcher_EmptyTickSkipsStore(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	b.flush(context.Background())

	_, batches, _, _ := st.Calls()
	assert.Zero(t, batches)
	assert.Zero(t, b.Stats().Flushes)
}

func TestBatcher_ConcurrentSubmitters(t *testing.T) {
	st := store.NewMemoryStore()
	b := newTestBatcher(st)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	futures := make([]*IncrementFuture, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			futures[i] = b.Submit("k", 1)
		}()
	}
	wg.Wait()
	b.flush(context.Background())

	// Values must be a permutation of 1..n: each submitter sees a distinct
	// post-increment value.
	seen := make(map[int64]bool, n)
	for _, f := range futures {
		v, err := f.Wait(context.Background())
		require.NoError(t, err)
		require.False(t, seen[v], "duplicate post-increment value %d", v)
		require.True(t, v >= 1 && v <= n)
		seen[v] = true
	}
}
