// Copyright 2025 James Ross
// Package jobs is the compile-time-typed job registry: each job type maps a
// runtime job_type string to a generic Job[C,Res] implementation, downcast
// and invoked through a type-erased internal registry (Go generics standing
// in for the Rust source's PhantomData-based ConcreteJobHandler<J>).
package jobs

import (
	"context"

	"github.com/flyingrobots/dogqueue/internal/queue"
)

// JobContext is the runtime metadata available to every job execution,
// distinct from the caller-supplied user context C.
type JobContext struct {
	JobID    queue.JobID
	TenantID string
	Attempt  uint32
}

// Job is implemented by a job type J, parameterized by the user-supplied
// execution context C it needs (db handles, clients, config) and the result
// type Res it produces. J itself is both the decoded payload and the
// behavior — register a pointer type (e.g. *SendEmailJob) so the registry
// can decode directly into it.
type Job[C any, Res any] interface {
	JobType() string
	Execute(ctx context.Context, jobCtx JobContext, userCtx C) (Res, error)
}
