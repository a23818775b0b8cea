package ratelimit

import (
	"context"

	"github.com/ahrav/go-llmgate/internal/gateway/identity"
	"github.com/ahrav/go-llmgate/internal/gateway/transport"
)

// OnSuccess settles an admitted request after its upstream call completed.
// The request-count slot frees (clamped at zero at the store), observed token
// usage accrues to each scope's TPM counter, and RPM stays put so it keeps
// measuring attempted rate. Counters land in the minute bucket current at
// reconcile time, which may differ from the bucket the request was admitted
// under when the call straddled a minute boundary.
//
// Exactly one of OnSuccess or OnFailure must run per admitted request.
func (l *Limiter) OnSuccess(ctx context.Context, id *identity.Identity, model string, usage transport.NormalizedUsage) {
	l.reconcile(id, model, usage.TotalTokens)
}

// OnFailure settles an admitted request whose upstream call failed. Only the
// request-count slot frees; no tokens were consumed.
func (l *Limiter) OnFailure(ctx context.Context, id *identity.Identity, model string) {
	l.reconcile(id, model, 0)
}

// reconcile submits the settlement deltas fire-and-forget and releases the
// process-local concurrency slot. It never blocks on the store; a dropped
// flush leaves residue that the bucket TTL erases within a minute.
func (l *Limiter) reconcile(id *identity.Identity, model string, tokens int64) {
	if l.gate != nil {
		l.gate.Release()
		l.metrics.ObserveGate(l.gate.InFlight())
	}

	bucket := MinuteBucket(l.clock())
	for _, sc := range applicableScopes(id, model) {
		if key, ok := BuildKey(sc.scope, bucket, GroupRequestCount); ok {
			l.batcher.Submit(key, -1)
		}
		if tokens > 0 {
			if key, ok := BuildKey(sc.scope, bucket, GroupTPM); ok {
				l.batcher.Submit(key, tokens)
			}
		}
	}
}
