// Copyright 2025 James Ross
package adapter

import "time"

// Observer receives lifecycle notifications from the adapter's enqueue and
// worker loops. internal/obs provides a Prometheus-backed implementation;
// tests can use a no-op or recording stub.
type Observer interface {
	JobEnqueued(jobType, queueName string)
	JobCompleted(jobType string, duration time.Duration)
	JobFailed(jobType string, duration time.Duration)
	JobRetrying(jobType string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) JobEnqueued(string, string)         {}
func (noopObserver) JobCompleted(string, time.Duration) {}
func (noopObserver) JobFailed(string, time.Duration)    {}
func (noopObserver) JobRetrying(string, time.Duration)  {}

// NoopObserver is an Observer that discards every notification.
var NoopObserver Observer = noopObserver{}
