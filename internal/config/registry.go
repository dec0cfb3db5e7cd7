package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/proctor/internal/backend"
)

// ErrBackendNotRegistered is returned by [Registry.CreateBackend] when no
// factory has been registered under the requested kind.
var ErrBackendNotRegistered = errors.New("config: backend not registered")

// BackendFactory builds a backend client from its configuration. The returned
// close function releases the client's resources and may be nil.
type BackendFactory func(ctx context.Context, cfg BackendConfig) (backend.Client, func(), error)

// Registry maps backend kinds to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[BackendKind]BackendFactory
}

// NewRegistry returns a [Registry] with the "none" backend registered.
func NewRegistry() *Registry {
	r := &Registry{backends: make(map[BackendKind]BackendFactory)}
	r.RegisterBackend(BackendNone, func(context.Context, BackendConfig) (backend.Client, func(), error) {
		return backend.Nop{}, nil, nil
	})
	return r
}

// RegisterBackend registers a backend factory under kind.
// Subsequent calls with the same kind overwrite the previous registration.
func (r *Registry) RegisterBackend(kind BackendKind, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[kind] = factory
}

// CreateBackend instantiates the backend registered under cfg.Kind.
// Returns [ErrBackendNotRegistered] if no factory has been registered for
// that kind. The returned close function is never nil.
func (r *Registry) CreateBackend(ctx context.Context, cfg BackendConfig) (backend.Client, func(), error) {
	r.mu.RLock()
	factory, ok := r.backends[cfg.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Kind)
	}
	client, closeFn, err := factory(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config: create backend %q: %w", cfg.Kind, err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return client, closeFn, nil
}
