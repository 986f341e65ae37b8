// Package service holds the registry of host-invocable operations exposed by
// the daemon. Services are registered by name and dispatched from the HTTP
// API layer.
package service

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a service call against a list of entity ids.
type Handler func(ctx context.Context, entityIDs []string) error

// Registry holds all registered service handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a new service registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a service handler to the registry
func (r *Registry) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	r.handlers[name] = handler
	return nil
}

// Unregister removes a service handler. Returns false if the name was not
// registered.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; !exists {
		return false
	}

	delete(r.handlers, name)
	return true
}

// Get retrieves a service handler by name
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, exists := r.handlers[name]
	return handler, exists
}

// Names returns all registered service names
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
