package ratelimit

// Stats is a point-in-time snapshot of the limiter's internals, intended for
// health endpoints and tests.
type Stats struct {
	// Batcher reports buffered keys and lifetime flush counts.
	Batcher BatcherStats
	// GateInFlight is the current process-local concurrency slot usage, or
	// zero when the gate is disabled.
	GateInFlight int64
	// GateLimit is the configured slot ceiling, or zero when disabled.
	GateLimit int64
	// FallbackBuckets is the number of per-credential fallback limiters
	// materialized during store outages.
	FallbackBuckets int
}

// Stats snapshots the limiter. Values from different fields are not read
// atomically with respect to each other.
func (l *Limiter) Stats() Stats {
	s := Stats{Batcher: l.batcher.Stats()}
	if l.gate != nil {
		s.GateInFlight = l.gate.InFlight()
		s.GateLimit = l.gate.Limit()
	}
	if l.fallback != nil {
		s.FallbackBuckets = l.fallback.size()
	}
	return s
}
