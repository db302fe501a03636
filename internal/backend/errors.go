// Copyright 2025 James Ross
// Package backend defines the storage-agnostic contract every queue backend
// implements (enqueue/dequeue/ack/heartbeat/cancel/status/events), plus the
// closed error taxonomy backends return.
package backend

import "fmt"

// ErrKind is a closed taxonomy of queue-specific failures, distinct from the
// service pipeline's apperr.Kind — a queue is not a service, and its errors
// carry retry semantics a generic service error has no notion of.
type ErrKind int

const (
	JobNotFound ErrKind = iota
	JobAlreadyTerminal
	JobCanceled
	InvalidLeaseToken
	LeaseExpired
	CodecNotFound
	UnknownJobType
	JobFailed
	SerializationError
	Internal
)

var errKindNames = map[ErrKind]string{
	JobNotFound:         "job_not_found",
	JobAlreadyTerminal:  "job_already_terminal",
	JobCanceled:         "job_canceled",
	InvalidLeaseToken:   "invalid_lease_token",
	LeaseExpired:        "lease_expired",
	CodecNotFound:       "codec_not_found",
	UnknownJobType:      "unknown_job_type",
	JobFailed:           "job_failed",
	SerializationError:  "serialization_error",
	Internal:            "internal",
}

func (k ErrKind) String() string { return errKindNames[k] }

// Retryable reports whether an error of this kind indicates a transient
// condition a caller may legitimately retry (redundant with the queue's own
// attempt/backoff bookkeeping, but useful to callers outside that loop).
func (k ErrKind) Retryable() bool {
	switch k {
	case LeaseExpired, Internal:
		return true
	default:
		return false
	}
}

// Error is the queue package's single error type.
type Error struct {
	Kind    ErrKind
	Message string
	Source  error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Source }

// Retryable reports whether this error's kind is retryable.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// NewError builds an *Error of the given kind.
func NewError(kind ErrKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func ErrJobNotFound(jobID string) *Error {
	return NewError(JobNotFound, fmt.Sprintf("job %s not found", jobID))
}

func ErrJobAlreadyTerminal(jobID string) *Error {
	return NewError(JobAlreadyTerminal, fmt.Sprintf("job %s is already in a terminal state", jobID))
}

func ErrJobCanceled(jobID string) *Error {
	return NewError(JobCanceled, fmt.Sprintf("job %s was canceled", jobID))
}

func ErrInvalidLeaseToken(jobID string) *Error {
	return NewError(InvalidLeaseToken, fmt.Sprintf("lease token does not match job %s", jobID))
}

func ErrLeaseExpired(jobID string) *Error {
	return NewError(LeaseExpired, fmt.Sprintf("lease for job %s has expired", jobID))
}

func ErrCodecNotFound(codec string) *Error {
	return NewError(CodecNotFound, fmt.Sprintf("codec %q is not registered", codec))
}

func ErrUnknownJobType(jobType string) *Error {
	return NewError(UnknownJobType, fmt.Sprintf("job type %q is not registered", jobType))
}
