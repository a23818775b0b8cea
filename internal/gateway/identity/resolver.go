package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnknownCredential reports an API key the resolver has no record of.
var ErrUnknownCredential = errors.New("identity: unknown credential")

// Resolver maps a caller-presented API key to its identity and configured
// limits. Implementations may consult a database or control plane; the
// pipeline only needs the resolved snapshot.
type Resolver interface {
	Resolve(ctx context.Context, apiKey string) (*Identity, error)
}

// StaticResolver serves identities from an in-memory table keyed by API key.
// Suitable for configuration-file deployments and tests.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[string]*Identity
}

// NewStaticResolver builds a resolver over a fixed key-to-identity table.
func NewStaticResolver(entries map[string]*Identity) *StaticResolver {
	if entries == nil {
		entries = make(map[string]*Identity)
	}
	return &StaticResolver{entries: entries}
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, apiKey string) (*Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.entries[apiKey]
	if !ok {
		return nil, ErrUnknownCredential
	}
	return id, nil
}

// Register adds or replaces the identity for an API key.
func (r *StaticResolver) Register(apiKey string, id *Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[apiKey] = id
}
