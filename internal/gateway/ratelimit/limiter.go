package ratelimit

import (
	"log/slog"
	"time"

	"github.com/ahrav/go-llmgate/internal/gateway/configuration"
	gwerrors "github.com/ahrav/go-llmgate/internal/gateway/errors"
	"github.com/ahrav/go-llmgate/internal/gateway/identity"
	"github.com/ahrav/go-llmgate/internal/gateway/store"
)

// Limiter is the admission-control engine for one gateway process.
//
// Check gates a request before the backend call; OnSuccess and OnFailure
// reconcile counters afterwards. Many Limiter instances across a fleet share
// one logical set of counters through the CounterStore; within a process all
// counter traffic funnels through a single Batcher so store round trips stay
// constant regardless of request volume.
type Limiter struct {
	batcher *Batcher

	// gate is the process-local concurrency cap, nil when disabled.
	gate *ConcurrencyGate

	// fallback bounds throughput during store outages, nil when disabled.
	fallback *fallbackLimiter

	// clock supplies wall time for minute buckets; replaceable in tests.
	clock func() time.Time

	logger  *slog.Logger
	metrics *Metrics
}

// NewLimiter builds the engine from validated configuration. The batcher's
// flush loop starts immediately; call Stop on shutdown to drain it.
func NewLimiter(cfg *configuration.Config, st store.CounterStore, logger *slog.Logger, metrics *Metrics) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ratelimit")

	l := &Limiter{
		batcher: NewBatcher(st, cfg.Batch, logger, metrics),
		clock:   time.Now,
		logger:  logger,
		metrics: metrics,
	}
	if cfg.Gate.Enabled {
		l.gate = NewConcurrencyGate(cfg.Gate.MaxInFlight)
	}
	if cfg.Fallback.Enabled {
		l.fallback = newFallbackLimiter(cfg.Fallback)
	}

	l.batcher.Start()
	return l, nil
}

// Stop drains the batcher and terminates its flush loop. Idempotent.
func (l *Limiter) Stop() {
	l.batcher.Stop()
}

// KeyPattern exposes the counter-key namespace this engine owns, for external
// warm-up or reconciliation jobs.
func (l *Limiter) KeyPattern() string {
	return l.batcher.KeyPattern()
}

// scopeCheck pairs one applicable scope with its effective limits.
type scopeCheck struct {
	scope  Scope
	limits configuration.LimitSet
}

// applicableScopes enumerates the scopes to evaluate for this request.
//
// Each scope is independently optional: a scope whose identifier is absent,
// or whose LimitSet configures no dimension, is skipped entirely — no
// increment, no check. The (credential, model) scope is evaluated only when
// the credential carries an explicit override for the requested model. The
// parallel-request cap is meaningful only on the credential scope; every
// other scope treats it as not enforced. Order is deterministic so rejection
// attribution is stable.
func applicableScopes(id *identity.Identity, model string) []scopeCheck {
	if id == nil {
		return nil
	}

	scopes := make([]scopeCheck, 0, 5)

	if id.CredentialID != "" && !id.KeyLimits.Empty() {
		scopes = append(scopes, scopeCheck{
			scope:  Scope{Kind: ScopeKey, ID: id.CredentialID},
			limits: id.KeyLimits,
		})
	}

	if id.CredentialID != "" {
		if override, ok := id.KeyLimits.ForModel(model); ok {
			override.MaxParallelRequests = nil
			if !override.Empty() {
				scopes = append(scopes, scopeCheck{
					scope:  Scope{Kind: ScopeModelPerKey, ID: id.CredentialID, Model: model},
					limits: override,
				})
			}
		}
	}

	for _, sc := range []struct {
		kind   ScopeKind
		ident  string
		limits configuration.LimitSet
	}{
		{ScopeUser, id.UserID, id.UserLimits},
		{ScopeTeam, id.TeamID, id.TeamLimits},
		{ScopeCustomer, id.CustomerID, id.CustomerLimits},
	} {
		sc.limits.MaxParallelRequests = nil
		if sc.ident == "" || sc.limits.Empty() {
			continue
		}
		scopes = append(scopes, scopeCheck{
			scope:  Scope{Kind: sc.kind, ID: sc.ident},
			limits: sc.limits,
		})
	}

	return scopes
}

// zeroLimit reports whether any configured dimension is exactly zero, which
// means "always reject" and short-circuits admission before any store
// interaction.
func (sc scopeCheck) zeroLimit() (gwerrors.Dimension, bool) {
	if sc.limits.MaxParallelRequests != nil && *sc.limits.MaxParallelRequests == 0 {
		return gwerrors.DimensionParallel, true
	}
	if sc.limits.RPMLimit != nil && *sc.limits.RPMLimit == 0 {
		return gwerrors.DimensionRPM, true
	}
	if sc.limits.TPMLimit != nil && *sc.limits.TPMLimit == 0 {
		return gwerrors.DimensionTPM, true
	}
	return "", false
}

// fallbackKey picks the most specific identifier for outage-mode bucketing.
func fallbackKey(id *identity.Identity) string {
	switch {
	case id.CredentialID != "":
		return id.CredentialID
	case id.UserID != "":
		return id.UserID
	case id.TeamID != "":
		return id.TeamID
	default:
		return id.CustomerID
	}
}
