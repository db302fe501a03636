// Copyright 2025 James Ross
package backend

import (
	"context"
	"time"

	"github.com/flyingrobots/dogqueue/internal/queue"
)

// Capabilities advertises which optional behaviors a backend implements, so
// callers (and tests) can skip assertions a given backend cannot satisfy.
type Capabilities struct {
	Delayed         bool
	ScheduledAt     bool
	Cancel          bool
	LeaseExtend     bool
	Priority        bool
	Idempotency     bool
	DeadLetterQueue bool
}

// Backend is the storage-agnostic contract a durable job queue implements.
// Every method is scoped to the tenant carried in ctx's queue.Ctx.
type Backend interface {
	// Enqueue durably records message and returns its job ID. If message
	// carries an IdempotencyKey already mapped to a non-terminal job in the
	// same (tenant, queue, job_type), that existing job's ID is returned
	// instead of creating a duplicate.
	Enqueue(ctx context.Context, qctx queue.Ctx, message queue.Message) (queue.JobID, error)

	// Dequeue checks the given queues in order and, in the first one that
	// has an eligible job, atomically takes its highest-priority eligible job
	// (in FIFO order among equal priority), transitions it to Processing
	// under a fresh lease, and returns it. Priorities are not compared across
	// queues. Returns (nil, nil) if no job is currently eligible.
	Dequeue(ctx context.Context, qctx queue.Ctx, queues []string, leaseDuration time.Duration) (*queue.Leased, error)

	// AckComplete marks a leased job Completed, optionally retaining the
	// encoded handler result as resultRef (nil to discard it). Fails with
	// JobCanceled if the job was canceled, JobAlreadyTerminal if otherwise
	// already terminal, InvalidLeaseToken/LeaseExpired if the lease no
	// longer authorizes the caller.
	AckComplete(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, resultRef []byte) error

	// AckFail reports a failed attempt. If retryAt is non-zero and the job
	// has attempts remaining, it is scheduled to retry at retryAt; otherwise
	// it is permanently Failed. Terminal/lease checks mirror AckComplete.
	AckFail(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, errMsg string, retryAt time.Time) error

	// HeartbeatExtend extends a valid, non-canceled lease by extra. It does
	// not itself check expiry — a worker racing the reaper can still lose on
	// its next ack.
	HeartbeatExtend(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, extra time.Duration) (time.Time, error)

	// Cancel transitions a non-terminal job to Canceled and returns true, or
	// returns false if the job was already terminal.
	Cancel(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (bool, error)

	// GetStatus returns the job's current status.
	GetStatus(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (queue.Status, error)

	// GetRecord returns the job's full record.
	GetRecord(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (*queue.Record, error)

	// EventStream returns a channel of lifecycle events for qctx's tenant.
	// The channel is closed when ctx is done.
	EventStream(ctx context.Context, qctx queue.Ctx) (<-chan queue.Event, error)

	// Capabilities reports which optional behaviors this backend supports.
	Capabilities() Capabilities
}

// Reapable is implemented by backends that expose expired-lease scanning to
// a generic reaper, without the reaper needing to know backend internals.
type Reapable interface {
	// ReapExpiredLeases reclaims every Processing job whose lease has
	// expired as of now, transitioning each to Retrying (if attempts
	// remain) or Failed, and returns how many were reclaimed.
	ReapExpiredLeases(ctx context.Context, now time.Time) (int, error)
}
