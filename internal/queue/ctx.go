// Copyright 2025 James Ross
package queue

// Ctx scopes every backend call to a tenant, keeping one tenant's jobs and
// idempotency keys fully isolated from another's.
type Ctx struct {
	TenantID string
}

// NewCtx builds a Ctx for tenantID.
func NewCtx(tenantID string) Ctx {
	return Ctx{TenantID: tenantID}
}
