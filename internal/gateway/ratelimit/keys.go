// Package ratelimit implements the gateway's distributed admission-control
// engine.
//
// Before any backend call the engine decides whether a request may proceed,
// tracking concurrent-request, requests-per-minute, and tokens-per-minute
// usage per credential, per user, per team, per end customer, and per
// (credential, model) pair. A fleet of gateway processes shares one logical
// set of counters through a remote store whose only contract is atomic
// increment; all mutations are additive, so batching and reordering within a
// flush tick are safe and no distributed locks are required.
package ratelimit

import (
	"fmt"
	"time"
)

// ScopeKind names one rate-limiting dimension.
type ScopeKind string

const (
	// ScopeKey limits a credential across all models.
	ScopeKey ScopeKind = "key"

	// ScopeModelPerKey limits one (credential, model) pair. Only evaluated
	// when the credential carries an explicit override for the model.
	ScopeModelPerKey ScopeKind = "model_per_key"

	// ScopeUser limits an internal user.
	ScopeUser ScopeKind = "user"

	// ScopeTeam limits a team.
	ScopeTeam ScopeKind = "team"

	// ScopeCustomer limits an end customer.
	ScopeCustomer ScopeKind = "customer"
)

// CounterGroup names one counter tracked per scope and minute bucket.
type CounterGroup string

const (
	// GroupRequestCount tracks in-flight requests; incremented at admission,
	// decremented at completion.
	GroupRequestCount CounterGroup = "request_count"

	// GroupRPM tracks attempted requests per minute; incremented at admission
	// and never decremented.
	GroupRPM CounterGroup = "rpm"

	// GroupTPM tracks tokens consumed per minute; added at reconciliation
	// from the provider-reported usage.
	GroupTPM CounterGroup = "tpm"
)

// KeyPrefix namespaces every counter this engine owns, so an external warm-up
// or reconciliation job can enumerate the engine's keys after a restart.
const KeyPrefix = "gateway:ratelimit:"

// bucketLayout renders wall clock at one-minute granularity. Counters in
// different buckets are independent and expire via TTL.
const bucketLayout = "2006-01-02-15-04"

// Scope is a tagged variant identifying one rate-limiting dimension instance.
// Model is only meaningful for ScopeModelPerKey.
type Scope struct {
	Kind  ScopeKind
	ID    string
	Model string
}

// MinuteBucket derives the current minute bucket from wall clock, in UTC so
// every process in the fleet agrees on bucket boundaries.
func MinuteBucket(t time.Time) string {
	return t.UTC().Format(bucketLayout)
}

// SecondsToNextMinute is the retry-after hint attached to rejections: the
// counters reset at the next minute boundary. Never less than one second.
func SecondsToNextMinute(t time.Time) int {
	secs := 60 - t.UTC().Second()
	if secs < 1 {
		secs = 1
	}
	return secs
}

// BuildKey maps (scope, bucket, group) to a counter key. It returns ok=false
// when the identifier the scope requires is absent, which means "skip this
// scope for this request" — an absent identifier is never defaulted to a
// shared bucket. Pure function, no I/O.
func BuildKey(s Scope, bucket string, group CounterGroup) (string, bool) {
	if s.ID == "" || bucket == "" {
		return "", false
	}
	if s.Kind == ScopeModelPerKey {
		if s.Model == "" {
			return "", false
		}
		return fmt.Sprintf("%s%s:%s:%s:%s:%s", KeyPrefix, s.Kind, s.ID, s.Model, bucket, group), true
	}
	return fmt.Sprintf("%s%s:%s:%s:%s", KeyPrefix, s.Kind, s.ID, bucket, group), true
}
