// Copyright 2025 James Ross
// Package schema provides a declarative resolve/validate before-hook builder
// scoped to write methods, accumulating every field violation into a single
// Unprocessable error with a dotted-path errors map — rather than failing
// fast on the first bad field.
package schema

import (
	"github.com/flyingrobots/dogqueue/internal/apperr"
	"github.com/flyingrobots/dogqueue/internal/svc"
)

// WriteScope restricts a schema hook to a subset of the write methods.
type WriteScope int

const (
	OnCreate WriteScope = iota
	OnPatch
	OnUpdate
	OnWrites // create, patch, and update
)

// Matches reports whether method falls within the scope.
func (w WriteScope) Matches(method svc.Method) bool {
	switch w {
	case OnCreate:
		return method == svc.Create
	case OnPatch:
		return method == svc.Patch
	case OnUpdate:
		return method == svc.Update
	case OnWrites:
		return method.IsWrite()
	default:
		return false
	}
}

// ResolveFn normalizes/defaults params before validation runs (trimming
// strings, filling defaults, deriving fields).
type ResolveFn[P any] func(params P) P

// ValidateFn returns a dotted-path field → message map. A nil or empty map
// means params is valid.
type ValidateFn[P any] func(params P) map[string]string

// Builder accumulates resolve and validate steps for one write scope.
type Builder[R any, P any] struct {
	scope      WriteScope
	resolvers  []ResolveFn[P]
	validators []ValidateFn[P]
}

// New returns a Builder defaulting to OnWrites (all three write methods).
func New[R any, P any]() *Builder[R, P] {
	return &Builder[R, P]{scope: OnWrites}
}

func (b *Builder[R, P]) OnCreateOnly() *Builder[R, P] { b.scope = OnCreate; return b }
func (b *Builder[R, P]) OnPatchOnly() *Builder[R, P]  { b.scope = OnPatch; return b }
func (b *Builder[R, P]) OnUpdateOnly() *Builder[R, P] { b.scope = OnUpdate; return b }
func (b *Builder[R, P]) OnAllWrites() *Builder[R, P]  { b.scope = OnWrites; return b }

// Resolve appends a normalization step, run before any validators, in
// registration order.
func (b *Builder[R, P]) Resolve(fn ResolveFn[P]) *Builder[R, P] {
	b.resolvers = append(b.resolvers, fn)
	return b
}

// Validate appends a field-validation step. All validators run and their
// results are merged — a later validator's message for the same dotted path
// overwrites an earlier one.
func (b *Builder[R, P]) Validate(fn ValidateFn[P]) *Builder[R, P] {
	b.validators = append(b.validators, fn)
	return b
}

// Build returns the before-hook to attach to a service's ServiceHooks.
func (b *Builder[R, P]) Build() svc.BeforeHook[R, P] {
	return func(c *svc.Context[R, P]) error {
		if !b.scope.Matches(c.Method) {
			return nil
		}

		params := c.Params
		for _, resolve := range b.resolvers {
			params = resolve(params)
		}
		c.Params = params

		violations := map[string]string{}
		for _, validate := range b.validators {
			for path, msg := range validate(params) {
				violations[path] = msg
			}
		}
		if len(violations) == 0 {
			return nil
		}
		return apperr.NewUnprocessable("validation failed").WithErrors(violations)
	}
}
