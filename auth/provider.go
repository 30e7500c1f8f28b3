package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Provider is a pluggable identity source.
type Provider interface {
	// TryAuth starts a fresh authentication attempt.
	TryAuth(ctx context.Context) (Result, error)

	// Verify reports whether the current page load continues an earlier
	// attempt.
	Verify(ctx context.Context) (Result, error)
}

// Factory builds a provider instance. A returned error makes the provider
// not injectable.
type Factory func() (Provider, error)

type RegistryOption func(map[string]Factory)

// WithProvider registers a pre-built instance under id.
func WithProvider(id string, p Provider) RegistryOption {
	return func(m map[string]Factory) {
		m[id] = func() (Provider, error) { return p, nil }
	}
}

// WithFactory registers a lazily built provider under id.
func WithFactory(id string, f Factory) RegistryOption {
	return func(m map[string]Factory) {
		m[id] = f
	}
}

// Registry maps provider ids to providers. The mapping is fixed once
// NewRegistry returns; the last registration of a duplicate id wins.
type Registry struct {
	factories map[string]Factory

	mu        sync.Mutex
	instances map[string]Provider
}

func NewRegistry(opts ...RegistryOption) *Registry {
	factories := make(map[string]Factory)
	for _, opt := range opts {
		opt(factories)
	}

	return &Registry{
		factories: factories,
		instances: make(map[string]Provider),
	}
}

// Provider resolves id. Successfully built instances are reused by later
// calls; failed builds are retried.
func (r *Registry) Provider(id string) (Provider, error) {
	f, ok := r.factories[id]
	if !ok {
		return nil, &ProviderError{ProviderID: id, Code: CodeProviderNotFound, Err: ErrProviderNotFound}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.instances[id]; ok {
		return p, nil
	}

	p, err := build(f)
	if err != nil {
		return nil, &ProviderError{ProviderID: id, Code: CodeProviderNotInjectable, Err: ErrProviderNotInjectable, Cause: err}
	}

	r.instances[id] = p
	return p, nil
}

// MustProvider returns the provider for id or panics.
func (r *Registry) MustProvider(id string) Provider {
	p, err := r.Provider(id)
	if err != nil {
		panic(err)
	}
	return p
}

func (r *Registry) Has(id string) bool {
	_, ok := r.factories[id]
	return ok
}

// IDs lists the registered provider ids in lexical order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func build(f Factory) (p Provider, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("factory panic: %v", rec)
		}
	}()

	if f == nil {
		return nil, fmt.Errorf("nil factory")
	}

	p, err = f()
	if err == nil && p == nil {
		err = fmt.Errorf("factory returned nil provider")
	}
	return p, err
}
