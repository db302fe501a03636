// Copyright 2025 James Ross
package svc

import (
	"context"

	"github.com/flyingrobots/dogqueue/internal/tenant"
)

// Context carries everything a hook or service handler needs: the call's
// tenant, method, path, typed params, and — once a service or around hook
// has run — the typed result or error. R is the service's result type, P
// its params type.
type Context[R any, P any] struct {
	Ctx    context.Context
	Tenant tenant.Ctx
	Path   string
	Method Method
	Params P
	Result R
	Err    error

	data         map[string]any
	shortCircuit bool
}

// SetResult sets Result and marks the call as short-circuited: a before hook
// that calls SetResult skips the service method entirely, and the pipeline
// proceeds straight to the after hooks with this Result (mirroring Feathers'
// convention that a before hook setting context.result skips the handler).
func (c *Context[R, P]) SetResult(result R) {
	c.Result = result
	c.shortCircuit = true
}

// ShortCircuited reports whether a before hook has already set Result via
// SetResult, so the service method should not run.
func (c *Context[R, P]) ShortCircuited() bool {
	return c.shortCircuit
}

// Set stashes an arbitrary value under key, visible to every later hook in
// the same call (Feathers' context.data, generalized).
func (c *Context[R, P]) Set(key string, value any) {
	if c.data == nil {
		c.data = make(map[string]any)
	}
	c.data[key] = value
}

// Get retrieves a value previously stashed via Set.
func (c *Context[R, P]) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Next is the one-shot continuation passed to an around hook: call it to
// proceed to the next hook (or the service method itself), at most once.
type Next[R any] func(ctx context.Context) (R, error)

// BeforeHook runs prior to the service method and may mutate Params, set Err
// to short-circuit with a failure, or call SetResult to short-circuit with a
// result and skip the service method.
type BeforeHook[R any, P any] func(*Context[R, P]) error

// AfterHook runs once the service method (and all around hooks) has produced
// a Result.
type AfterHook[R any, P any] func(*Context[R, P]) error

// ErrorHook runs when the call produced a non-nil Err, in before, service, or
// after phase.
type ErrorHook[R any, P any] func(*Context[R, P]) error

// AroundHook wraps the entire before→service→after chain (and any
// inner around hooks) via Next, in the manner of HTTP middleware.
type AroundHook[R any, P any] func(ctx *Context[R, P], next Next[R]) (R, error)

// ServiceHooks is the full hook set attached to one service, split into
// all-methods and per-method buckets, matching the Rust hooks.rs layout.
type ServiceHooks[R any, P any] struct {
	AroundAll []AroundHook[R, P]
	AroundBy  map[Method][]AroundHook[R, P]

	BeforeAll []BeforeHook[R, P]
	BeforeBy  map[Method][]BeforeHook[R, P]

	AfterAll []AfterHook[R, P]
	AfterBy  map[Method][]AfterHook[R, P]

	ErrorAll []ErrorHook[R, P]
	ErrorBy  map[Method][]ErrorHook[R, P]
}

// NewHooks returns an empty ServiceHooks set.
func NewHooks[R any, P any]() *ServiceHooks[R, P] {
	return &ServiceHooks[R, P]{
		AroundBy: make(map[Method][]AroundHook[R, P]),
		BeforeBy: make(map[Method][]BeforeHook[R, P]),
		AfterBy:  make(map[Method][]AfterHook[R, P]),
		ErrorBy:  make(map[Method][]ErrorHook[R, P]),
	}
}

func (h *ServiceHooks[R, P]) AroundAllMethods(hooks ...AroundHook[R, P]) *ServiceHooks[R, P] {
	h.AroundAll = append(h.AroundAll, hooks...)
	return h
}

func (h *ServiceHooks[R, P]) Around(method Method, hooks ...AroundHook[R, P]) *ServiceHooks[R, P] {
	h.AroundBy[method] = append(h.AroundBy[method], hooks...)
	return h
}

func (h *ServiceHooks[R, P]) BeforeAllMethods(hooks ...BeforeHook[R, P]) *ServiceHooks[R, P] {
	h.BeforeAll = append(h.BeforeAll, hooks...)
	return h
}

func (h *ServiceHooks[R, P]) Before(method Method, hooks ...BeforeHook[R, P]) *ServiceHooks[R, P] {
	h.BeforeBy[method] = append(h.BeforeBy[method], hooks...)
	return h
}

func (h *ServiceHooks[R, P]) BeforeCreate(hooks ...BeforeHook[R, P]) *ServiceHooks[R, P] {
	return h.Before(Create, hooks...)
}

func (h *ServiceHooks[R, P]) BeforePatch(hooks ...BeforeHook[R, P]) *ServiceHooks[R, P] {
	return h.Before(Patch, hooks...)
}

func (h *ServiceHooks[R, P]) BeforeUpdate(hooks ...BeforeHook[R, P]) *ServiceHooks[R, P] {
	return h.Before(Update, hooks...)
}

func (h *ServiceHooks[R, P]) AfterAllMethods(hooks ...AfterHook[R, P]) *ServiceHooks[R, P] {
	h.AfterAll = append(h.AfterAll, hooks...)
	return h
}

func (h *ServiceHooks[R, P]) After(method Method, hooks ...AfterHook[R, P]) *ServiceHooks[R, P] {
	h.AfterBy[method] = append(h.AfterBy[method], hooks...)
	return h
}

func (h *ServiceHooks[R, P]) ErrorAllMethods(hooks ...ErrorHook[R, P]) *ServiceHooks[R, P] {
	h.ErrorAll = append(h.ErrorAll, hooks...)
	return h
}

func (h *ServiceHooks[R, P]) Error(method Method, hooks ...ErrorHook[R, P]) *ServiceHooks[R, P] {
	h.ErrorBy[method] = append(h.ErrorBy[method], hooks...)
	return h
}

// collectMethodHooks returns all-methods hooks followed by per-method hooks,
// in that fixed order — mirroring dog-core's collect_method_hooks.
func collectMethodHooks[H any](all []H, byMethod map[Method][]H, method Method) []H {
	out := make([]H, 0, len(all)+len(byMethod[method]))
	out = append(out, all...)
	out = append(out, byMethod[method]...)
	return out
}
