// Copyright 2025 James Ross
package svc

import (
	"fmt"
	"sync"
)

// entry is a type-erased holder for one registered service + its hooks,
// keyed by path. Registry itself stays non-generic so a single process can
// host services with different R/P pairs.
type entry struct {
	path    string
	service any
	hooks   any
}

// Registry maps service paths ("users", "jobs", ...) to a registered
// service + hook set. Lookups are typed via the package-level Resolve
// function, which downcasts and returns ok=false on a type mismatch rather
// than panicking.
type Registry struct {
	mu       sync.RWMutex
	services map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]entry)}
}

// Register adds service s (with its hooks, possibly nil) under path,
// overwriting any prior registration at that path.
func Register[R any, P any](r *Registry, path string, s Service[R, P], hooks *ServiceHooks[R, P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[path] = entry{path: path, service: s, hooks: hooks}
}

// Resolve looks up the service registered at path and downcasts it to
// Service[R, P]. ok is false if nothing is registered at path, or if the
// registered service has a different R/P pair.
func Resolve[R any, P any](r *Registry, path string) (Service[R, P], *ServiceHooks[R, P], bool) {
	r.mu.RLock()
	e, found := r.services[path]
	r.mu.RUnlock()
	if !found {
		var zeroS Service[R, P]
		return zeroS, nil, false
	}
	s, ok := e.service.(Service[R, P])
	if !ok {
		var zeroS Service[R, P]
		return zeroS, nil, false
	}
	hooks, _ := e.hooks.(*ServiceHooks[R, P])
	return s, hooks, true
}

// Paths returns every registered service path.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for p := range r.services {
		out = append(out, p)
	}
	return out
}

// Has reports whether a service is registered at path.
func (r *Registry) Has(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[path]
	return ok
}

func errNoService(path string) error {
	return fmt.Errorf("svc: no service registered at path %q", path)
}
