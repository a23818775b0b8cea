package ratelimit

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
	"github.com/ahrav/go-llmgate/internal/gateway/identity"
)

// scopeUsage holds one scope's post-increment counter values for the current
// minute bucket, or the store fault that prevented reading them.
type scopeUsage struct {
	requests int64
	rpm      int64
	tpm      int64
	storeErr error
}

// Check decides whether a request may proceed, in one hop: the decision is
// terminal and never retried internally.
//
// The process-local concurrency gate runs first so it can veto without a
// store round trip. Then, for every applicable scope, three increments
// (+1 request count, +1 RPM, +0 TPM) are submitted to the batcher and awaited
// concurrently behind a single join barrier, and each scope's post-increment
// values are compared against its LimitSet. Any configured dimension exceeded
// on any scope rejects the request with a retry-after hint aligned to the
// next minute boundary.
//
// A nil return admits the request; the caller owes exactly one OnSuccess or
// OnFailure for it. A *gwerrors.AdmissionError return rejects it and no
// reconciliation is owed — request-count increments are rolled back here and
// RPM intentionally stays incremented, measuring attempted rather than
// completed call rate.
//
// Store faults never reject: admission proceeds without the distributed
// check (fail-open), with only the gate and the optional fallback limiter
// still applying.
func (l *Limiter) Check(ctx context.Context, id *identity.Identity, model string) error {
	if l.gate != nil {
		if !l.gate.TryAcquire() {
			l.metrics.ObserveGateReject()
			l.metrics.ObserveCheck(false)
			l.metrics.ObserveRejection("process", string(gwerrors.DimensionParallel))
			return &gwerrors.AdmissionError{
				Scope:      "process",
				Dimension:  gwerrors.DimensionParallel,
				Current:    l.gate.InFlight(),
				Limit:      l.gate.Limit(),
				RetryAfter: 1,
			}
		}
		l.metrics.ObserveGate(l.gate.InFlight())
	}

	err := l.checkDistributed(ctx, id, model)
	if err != nil && l.gate != nil {
		// The request is not proceeding; its concurrency slot frees now
		// rather than through the reconciler.
		l.gate.Release()
		l.metrics.ObserveGate(l.gate.InFlight())
	}

	l.metrics.ObserveCheck(err == nil)
	var admErr *gwerrors.AdmissionError
	if errors.As(err, &admErr) {
		l.metrics.ObserveRejection(admErr.Scope, string(admErr.Dimension))
	}
	return err
}

// checkDistributed evaluates every applicable scope against the shared
// counters.
func (l *Limiter) checkDistributed(ctx context.Context, id *identity.Identity, model string) error {
	scopes := applicableScopes(id, model)
	if len(scopes) == 0 {
		return nil
	}

	// Malformed limits surface eagerly, before any counter is touched.
	for _, sc := range scopes {
		if err := sc.limits.Validate(); err != nil {
			return err
		}
	}

	now := l.clock()

	// A zero limit means "always reject"; short-circuit with no store
	// interaction at all.
	for _, sc := range scopes {
		if dim, zero := sc.zeroLimit(); zero {
			return &gwerrors.AdmissionError{
				Scope:      string(sc.scope.Kind),
				Identifier: sc.scope.ID,
				Dimension:  dim,
				Current:    0,
				Limit:      0,
				RetryAfter: SecondsToNextMinute(now),
			}
		}
	}

	bucket := MinuteBucket(now)

	// Submit all increments up front so every scope lands in the same flush
	// tick, then await them concurrently behind one join barrier. The
	// increments have no ordering guarantee relative to each other; additive
	// atomic mutations make any interleaving correct.
	type scopeFutures struct {
		requests *IncrementFuture
		rpm      *IncrementFuture
		tpm      *IncrementFuture
	}
	futures := make([]scopeFutures, len(scopes))
	for i, sc := range scopes {
		reqKey, _ := BuildKey(sc.scope, bucket, GroupRequestCount)
		rpmKey, _ := BuildKey(sc.scope, bucket, GroupRPM)
		tpmKey, _ := BuildKey(sc.scope, bucket, GroupTPM)
		futures[i] = scopeFutures{
			requests: l.batcher.Submit(reqKey, 1),
			rpm:      l.batcher.Submit(rpmKey, 1),
			tpm:      l.batcher.Submit(tpmKey, 0),
		}
	}

	usages := make([]scopeUsage, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range scopes {
		g.Go(func() error {
			var err error
			if usages[i].requests, err = futures[i].requests.Wait(gctx); err != nil {
				return recordStoreFault(&usages[i], err)
			}
			if usages[i].rpm, err = futures[i].rpm.Wait(gctx); err != nil {
				return recordStoreFault(&usages[i], err)
			}
			if usages[i].tpm, err = futures[i].tpm.Wait(gctx); err != nil {
				return recordStoreFault(&usages[i], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Caller cancelled while increments were in flight. The request is
		// not proceeding, so release the request-count slots it claimed.
		l.rollbackRequestCounts(scopes, bucket)
		return err
	}

	failedScopes := 0
	for i, sc := range scopes {
		u := usages[i]
		if u.storeErr != nil {
			failedScopes++
			continue
		}
		if admErr := sc.exceeded(u); admErr != nil {
			admErr.RetryAfter = SecondsToNextMinute(now)
			l.rollbackRequestCounts(scopes, bucket)
			return admErr
		}
	}

	if failedScopes == len(scopes) {
		// Store unreachable: fail open. The batcher already logged the
		// flush fault once for this tick.
		l.metrics.ObserveFailOpen()
		if l.fallback != nil {
			return l.fallback.check(fallbackKey(id))
		}
	}
	return nil
}

// recordStoreFault keeps store faults out of the errgroup error path so a
// single unreachable tick degrades to fail-open instead of aborting sibling
// scopes; anything else (caller cancellation) propagates.
func recordStoreFault(u *scopeUsage, err error) error {
	if gwerrors.IsStoreUnavailable(err) {
		u.storeErr = err
		return nil
	}
	return err
}

// exceeded compares one scope's post-increment values against its configured
// limits, in a fixed dimension order so attribution is deterministic.
func (sc scopeCheck) exceeded(u scopeUsage) *gwerrors.AdmissionError {
	if sc.limits.MaxParallelRequests != nil && u.requests > *sc.limits.MaxParallelRequests {
		return &gwerrors.AdmissionError{
			Scope:      string(sc.scope.Kind),
			Identifier: sc.scope.ID,
			Dimension:  gwerrors.DimensionParallel,
			Current:    u.requests,
			Limit:      *sc.limits.MaxParallelRequests,
		}
	}
	if sc.limits.RPMLimit != nil && u.rpm > *sc.limits.RPMLimit {
		return &gwerrors.AdmissionError{
			Scope:      string(sc.scope.Kind),
			Identifier: sc.scope.ID,
			Dimension:  gwerrors.DimensionRPM,
			Current:    u.rpm,
			Limit:      *sc.limits.RPMLimit,
		}
	}
	if sc.limits.TPMLimit != nil && u.tpm > *sc.limits.TPMLimit {
		return &gwerrors.AdmissionError{
			Scope:      string(sc.scope.Kind),
			Identifier: sc.scope.ID,
			Dimension:  gwerrors.DimensionTPM,
			Current:    u.tpm,
			Limit:      *sc.limits.TPMLimit,
		}
	}
	return nil
}

// rollbackRequestCounts returns the request-count slot claimed by each scope
// during a check that did not admit. Fire-and-forget: the decrements ride a
// later tick, clamp at zero at the store, and any residue self-heals when the
// minute bucket's TTL lapses.
func (l *Limiter) rollbackRequestCounts(scopes []scopeCheck, bucket string) {
	for _, sc := range scopes {
		if key, ok := BuildKey(sc.scope, bucket, GroupRequestCount); ok {
			l.batcher.Submit(key, -1)
		}
	}
}
