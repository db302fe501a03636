// Copyright 2025 James Ross
// Package queue defines the durable job queue's wire and runtime types:
// job identity, priority, the immutable message a producer enqueues, and the
// mutable record a backend tracks through the job's lifecycle.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// JobID uniquely identifies a job within a tenant.
type JobID string

// NewJobID mints a fresh random job ID.
func NewJobID() JobID {
	return JobID(uuid.NewString())
}

// LeaseToken authorizes ack/heartbeat calls against the job currently
// holding it; it changes on every new lease.
type LeaseToken string

// NewLeaseToken mints a fresh random lease token.
func NewLeaseToken() LeaseToken {
	return LeaseToken(uuid.NewString())
}

// Priority orders eligible jobs within a queue; higher runs first. FIFO order
// is preserved among jobs of equal priority.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "normal"
	}
}

// Message is the immutable payload a producer hands to Enqueue.
type Message struct {
	JobType        string
	PayloadBytes   []byte
	Codec          string
	Queue          string
	Priority       Priority
	MaxRetries     uint32
	RunAt          time.Time
	IdempotencyKey string
}

// StatusKind is the job's current lifecycle state. The Status fields that
// apply to each kind are annotated on Status below.
type StatusKind int

const (
	StatusEnqueued StatusKind = iota
	StatusScheduled
	StatusProcessing
	StatusRetrying
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (k StatusKind) String() string {
	switch k {
	case StatusEnqueued:
		return "enqueued"
	case StatusScheduled:
		return "scheduled"
	case StatusProcessing:
		return "processing"
	case StatusRetrying:
		return "retrying"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Status captures the job's current state and any state-specific timestamp.
type Status struct {
	Kind        StatusKind
	LeaseUntil  time.Time // Processing
	RetryAt     time.Time // Retrying
	CompletedAt time.Time // Completed
	FailedAt    time.Time // Failed
	CanceledAt  time.Time // Canceled
	Error       string    // Failed
}

// IsTerminal reports whether the job can never transition again.
func (s Status) IsTerminal() bool {
	switch s.Kind {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsProcessing reports whether a worker currently holds the job's lease.
func (s Status) IsProcessing() bool { return s.Kind == StatusProcessing }

// IsEligible reports whether the job is ready for dequeue at now: either
// freshly enqueued, or retrying with its retry_at already past.
func (s Status) IsEligible(now time.Time) bool {
	switch s.Kind {
	case StatusEnqueued:
		return true
	case StatusRetrying:
		return !s.RetryAt.After(now)
	default:
		return false
	}
}

// Record is the mutable, backend-owned state of one enqueued job.
type Record struct {
	JobID      JobID
	TenantID   string
	Message    Message
	Status     Status
	Attempt    uint32
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastError  string
	LeaseToken LeaseToken
	LeaseUntil time.Time
	ResultRef  []byte
}

// NewRecord builds a fresh Record for message, Scheduled if its RunAt is in
// the future, Enqueued otherwise.
func NewRecord(jobID JobID, tenantID string, message Message) *Record {
	now := time.Now().UTC()
	kind := StatusEnqueued
	if message.RunAt.After(now) {
		kind = StatusScheduled
	}
	return &Record{
		JobID:     jobID,
		TenantID:  tenantID,
		Message:   message,
		Status:    Status{Kind: kind},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanRetry reports whether another attempt is allowed.
func (r *Record) CanRetry() bool {
	return r.Attempt < r.Message.MaxRetries && !r.Status.IsTerminal()
}

// LeaseExpired reports whether the current lease is past lease_until.
func (r *Record) LeaseExpired(now time.Time) bool {
	return r.Status.Kind == StatusProcessing && !r.LeaseUntil.IsZero() && r.LeaseUntil.Before(now)
}

func (r *Record) touch() { r.UpdatedAt = time.Now().UTC() }

// SetError records the last error message and bumps UpdatedAt.
func (r *Record) SetError(err string) {
	r.LastError = err
	r.touch()
}

// StartProcessing transitions the job into Processing under a fresh lease.
// The caller is responsible for incrementing Attempt exactly once, at the
// moment of this transition (see backend/memory's dequeue).
func (r *Record) StartProcessing(token LeaseToken, leaseUntil time.Time) {
	r.Status = Status{Kind: StatusProcessing, LeaseUntil: leaseUntil}
	r.LeaseToken = token
	r.LeaseUntil = leaseUntil
	r.touch()
}

// Complete transitions the job to Completed, clearing its lease. resultRef
// is the encoded handler result, if the caller chose to persist one; nil
// means no result is retained.
func (r *Record) Complete(resultRef []byte) {
	now := time.Now().UTC()
	r.Status = Status{Kind: StatusCompleted, CompletedAt: now}
	r.LeaseToken = ""
	r.LeaseUntil = time.Time{}
	r.ResultRef = resultRef
	r.touch()
}

// Fail transitions the job to the terminal Failed state, clearing its lease.
func (r *Record) Fail(errMsg string) {
	now := time.Now().UTC()
	r.Status = Status{Kind: StatusFailed, FailedAt: now, Error: errMsg}
	r.LastError = errMsg
	r.LeaseToken = ""
	r.LeaseUntil = time.Time{}
	r.touch()
}

// ScheduleRetry transitions the job to Retrying at retryAt, clearing its
// lease. It does not touch Attempt — Attempt was already incremented at the
// StartProcessing transition that began this attempt.
func (r *Record) ScheduleRetry(retryAt time.Time) {
	r.Status = Status{Kind: StatusRetrying, RetryAt: retryAt}
	r.LeaseToken = ""
	r.LeaseUntil = time.Time{}
	r.touch()
}

// Cancel transitions the job to Canceled, clearing its lease. Cancel always
// wins: it is valid from any non-terminal state.
func (r *Record) Cancel() {
	now := time.Now().UTC()
	r.Status = Status{Kind: StatusCanceled, CanceledAt: now}
	r.LeaseToken = ""
	r.LeaseUntil = time.Time{}
	r.touch()
}

// Leased is a job handed to a worker: the record plus the lease it was
// dequeued under.
type Leased struct {
	Record     *Record
	LeaseToken LeaseToken
	LeaseUntil time.Time
}

// JobIDOf returns the leased job's ID.
func (l *Leased) JobIDOf() JobID { return l.Record.JobID }

// LeaseValid reports whether the lease is still valid at now.
func (l *Leased) LeaseValid(now time.Time) bool { return l.LeaseUntil.After(now) }

// LeaseRemaining returns the duration remaining on the lease at now.
func (l *Leased) LeaseRemaining(now time.Time) time.Duration { return l.LeaseUntil.Sub(now) }
