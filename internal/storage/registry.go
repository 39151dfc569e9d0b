package storage

import (
	"context"
	"strings"
	"sync"
)

// Factory builds a mover from configuration.
type Factory func(ctx context.Context, cfg Config) (Mover, error)

// Registry lazily builds and caches one mover per backend kind.
type Registry struct {
	lookup  ConfigLookup
	factory Factory

	mu     sync.Mutex
	movers map[string]Mover
}

// NewRegistry returns a registry resolving configuration through lookup.
// A nil factory uses Build.
func NewRegistry(lookup ConfigLookup, factory Factory) *Registry {
	if factory == nil {
		factory = Build
	}
	return &Registry{lookup: lookup, factory: factory, movers: make(map[string]Mover)}
}

// Register installs a mover for kind, replacing any cached one.
func (r *Registry) Register(kind string, mover Mover) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.movers[strings.ToLower(kind)] = mover
}

// Mover returns the mover for kind and the resolved kind, building the
// mover on first use. An empty kind resolves through the lookup's default.
// Failed builds are not cached.
func (r *Registry) Mover(ctx context.Context, kind string) (Mover, string, error) {
	key := strings.ToLower(strings.TrimSpace(kind))

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.movers[key]; ok && key != "" {
		return m, key, nil
	}
	cfg, err := r.lookup.Lookup(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if m, ok := r.movers[cfg.Kind]; ok {
		return m, cfg.Kind, nil
	}
	m, err := r.factory(ctx, cfg)
	if err != nil {
		return nil, "", err
	}
	r.movers[cfg.Kind] = m
	return m, cfg.Kind, nil
}
