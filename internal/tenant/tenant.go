// Copyright 2025 James Ross
// Package tenant carries the opaque tenant identity and request metadata
// threaded through every hook and service call.
package tenant

import "context"

// Ctx is the minimal per-request tenant context: an opaque identifier plus
// free-form request metadata (headers, auth claims, trace info). It carries
// no isolation policy, quota, or encryption concerns of its own — those are
// services' business, not the pipeline's.
type Ctx struct {
	TenantID string
	Meta     map[string]string
}

// New builds a Ctx for tenantID with an empty metadata map.
func New(tenantID string) Ctx {
	return Ctx{TenantID: tenantID, Meta: map[string]string{}}
}

// WithMeta returns a copy of c with key set to value in Meta.
func (c Ctx) WithMeta(key, value string) Ctx {
	m := make(map[string]string, len(c.Meta)+1)
	for k, v := range c.Meta {
		m[k] = v
	}
	m[key] = value
	return Ctx{TenantID: c.TenantID, Meta: m}
}

type ctxKey struct{}

// WithContext attaches c to ctx.
func WithContext(ctx context.Context, c Ctx) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext extracts the Ctx previously attached via WithContext.
func FromContext(ctx context.Context) (Ctx, bool) {
	c, ok := ctx.Value(ctxKey{}).(Ctx)
	return c, ok
}

// MustFromContext panics if no Ctx was attached. Reserved for code paths
// where a missing tenant context is a programmer error, not a request error.
func MustFromContext(ctx context.Context) Ctx {
	c, ok := FromContext(ctx)
	if !ok {
		panic("tenant: no tenant.Ctx in context")
	}
	return c
}
