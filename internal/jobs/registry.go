// Copyright 2025 James Ross
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/codec"
)

// handler is the type-erased execution entry one job type registers.
type handler struct {
	jobType string
	execute func(ctx context.Context, jobCtx JobContext, payload []byte, c codec.Codec, userCtx any) (any, error)
}

// Registry maps job_type strings to their registered, type-erased handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]handler
}

// NewRegistry returns an empty job registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]handler)}
}

// Register associates J's JobType() with a handler that decodes the payload
// into a fresh instance (via newInstance) and runs it. It is an error to
// register the same job type twice.
func Register[J Job[C, Res], C any, Res any](reg *Registry, newInstance func() J) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	jobType := newInstance().JobType()
	if _, exists := reg.handlers[jobType]; exists {
		return fmt.Errorf("jobs: job type %q already registered", jobType)
	}

	reg.handlers[jobType] = handler{
		jobType: jobType,
		execute: func(ctx context.Context, jobCtx JobContext, payload []byte, c codec.Codec, userCtx any) (any, error) {
			instance := newInstance()
			if len(payload) > 0 {
				if err := c.Decode(payload, instance); err != nil {
					return nil, backend.NewError(backend.SerializationError, err.Error())
				}
			}
			typedUserCtx, ok := userCtx.(C)
			if !ok {
				return nil, backend.NewError(backend.Internal, fmt.Sprintf("user context type mismatch for job type %q", jobType))
			}
			return instance.Execute(ctx, jobCtx, typedUserCtx)
		},
	}
	return nil
}

// IsRegistered reports whether jobType has a registered handler.
func (reg *Registry) IsRegistered(jobType string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.handlers[jobType]
	return ok
}

// RegisteredTypes lists every registered job type.
func (reg *Registry) RegisteredTypes() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.handlers))
	for t := range reg.handlers {
		out = append(out, t)
	}
	return out
}

// Execute decodes payload using c and runs the handler registered for
// jobType, returning backend.ErrUnknownJobType if none is registered.
func (reg *Registry) Execute(ctx context.Context, jobCtx JobContext, jobType string, payload []byte, c codec.Codec, userCtx any) (any, error) {
	reg.mu.RLock()
	h, ok := reg.handlers[jobType]
	reg.mu.RUnlock()
	if !ok {
		return nil, backend.ErrUnknownJobType(jobType)
	}
	return h.execute(ctx, jobCtx, payload, c, userCtx)
}
