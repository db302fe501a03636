// Copyright 2025 James Ross
// Package memory is the reference in-memory implementation of the
// backend.Backend contract: fine-grained RWMutex-protected maps, no lock held
// across any blocking call, and a bounded-channel event broadcaster.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/queue"
)

const broadcastCapacity = 1000

type idemKey struct {
	tenantID string
	queue    string
	jobType  string
	key      string
}

// Backend is the in-memory reference implementation.
type Backend struct {
	jobsMu sync.RWMutex
	jobs   map[queue.JobID]*queue.Record

	queuesMu sync.RWMutex
	// tenant -> queue name -> FIFO-within-priority deque of job IDs.
	queues map[string]map[string][]queue.JobID

	idemMu      sync.RWMutex
	idempotency map[idemKey]queue.JobID

	broadcaster *broadcaster
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		jobs:        make(map[queue.JobID]*queue.Record),
		queues:      make(map[string]map[string][]queue.JobID),
		idempotency: make(map[idemKey]queue.JobID),
		broadcaster: newBroadcaster(broadcastCapacity),
	}
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Reapable = (*Backend)(nil)

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Delayed:         true,
		ScheduledAt:     true,
		Cancel:          true,
		LeaseExtend:     true,
		Priority:        true,
		Idempotency:     true,
		DeadLetterQueue: false,
	}
}

func (b *Backend) Enqueue(ctx context.Context, qctx queue.Ctx, message queue.Message) (queue.JobID, error) {
	if message.IdempotencyKey != "" {
		key := idemKey{tenantID: qctx.TenantID, queue: message.Queue, jobType: message.JobType, key: message.IdempotencyKey}

		b.idemMu.RLock()
		existingID, found := b.idempotency[key]
		b.idemMu.RUnlock()

		if found {
			b.jobsMu.RLock()
			existing, stillThere := b.jobs[existingID]
			b.jobsMu.RUnlock()
			if stillThere && !existing.Status.IsTerminal() {
				return existingID, nil
			}
		}
	}

	jobID := queue.NewJobID()
	record := queue.NewRecord(jobID, qctx.TenantID, message)

	b.jobsMu.Lock()
	b.jobs[jobID] = record
	b.jobsMu.Unlock()

	b.insertIntoQueue(qctx.TenantID, message.Queue, jobID, message.Priority)

	if message.IdempotencyKey != "" {
		key := idemKey{tenantID: qctx.TenantID, queue: message.Queue, jobType: message.JobType, key: message.IdempotencyKey}
		b.idemMu.Lock()
		b.idempotency[key] = jobID
		b.idemMu.Unlock()
	}

	b.broadcaster.send(queue.Event{Kind: queue.EventEnqueued, JobID: jobID, TenantID: qctx.TenantID, Queue: message.Queue, At: time.Now().UTC()})
	return jobID, nil
}

// insertIntoQueue inserts jobID into tenant/queueName's deque in descending
// priority order, after any existing entries of equal-or-higher priority
// (preserving FIFO among equal priorities).
func (b *Backend) insertIntoQueue(tenantID, queueName string, jobID queue.JobID, priority queue.Priority) {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()

	tenantQueues, ok := b.queues[tenantID]
	if !ok {
		tenantQueues = make(map[string][]queue.JobID)
		b.queues[tenantID] = tenantQueues
	}
	deque := tenantQueues[queueName]

	insertAt := len(deque)
	for i, id := range deque {
		b.jobsMu.RLock()
		existingPriority := b.jobs[id].Message.Priority
		b.jobsMu.RUnlock()
		if existingPriority < priority {
			insertAt = i
			break
		}
	}

	deque = append(deque, "")
	copy(deque[insertAt+1:], deque[insertAt:])
	deque[insertAt] = jobID
	tenantQueues[queueName] = deque
}

func (b *Backend) Dequeue(ctx context.Context, qctx queue.Ctx, queues []string, leaseDuration time.Duration) (*queue.Leased, error) {
	now := time.Now().UTC()

	for _, queueName := range queues {
		jobID, ok := b.popEligible(qctx.TenantID, queueName, now)
		if !ok {
			continue
		}

		b.jobsMu.Lock()
		record, exists := b.jobs[jobID]
		if !exists {
			b.jobsMu.Unlock()
			continue
		}
		record.Attempt++
		token := queue.NewLeaseToken()
		leaseUntil := now.Add(leaseDuration)
		record.StartProcessing(token, leaseUntil)
		b.jobsMu.Unlock()

		b.broadcaster.send(queue.Event{Kind: queue.EventLeased, JobID: jobID, TenantID: qctx.TenantID, Queue: queueName, At: now})
		return &queue.Leased{Record: record, LeaseToken: token, LeaseUntil: leaseUntil}, nil
	}
	return nil, nil
}

// popEligible removes and returns the first eligible job ID in queueName's
// deque, scanning from the front (priority order).
func (b *Backend) popEligible(tenantID, queueName string, now time.Time) (queue.JobID, bool) {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()

	tenantQueues, ok := b.queues[tenantID]
	if !ok {
		return "", false
	}
	deque := tenantQueues[queueName]
	for i, id := range deque {
		b.jobsMu.RLock()
		record, exists := b.jobs[id]
		b.jobsMu.RUnlock()
		if !exists {
			continue
		}
		if record.Status.IsEligible(now) {
			tenantQueues[queueName] = append(deque[:i:i], deque[i+1:]...)
			return id, true
		}
	}
	return "", false
}

func (b *Backend) pushBack(tenantID, queueName string, jobID queue.JobID) {
	b.queuesMu.Lock()
	defer b.queuesMu.Unlock()
	tenantQueues, ok := b.queues[tenantID]
	if !ok {
		tenantQueues = make(map[string][]queue.JobID)
		b.queues[tenantID] = tenantQueues
	}
	tenantQueues[queueName] = append(tenantQueues[queueName], jobID)
}

func (b *Backend) AckComplete(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, resultRef []byte) error {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()

	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		return backend.ErrJobNotFound(string(jobID))
	}
	if record.Status.Kind == queue.StatusCanceled {
		return backend.ErrJobCanceled(string(jobID))
	}
	if record.Status.IsTerminal() {
		return backend.ErrJobAlreadyTerminal(string(jobID))
	}
	if record.LeaseToken != token {
		return backend.ErrInvalidLeaseToken(string(jobID))
	}
	now := time.Now().UTC()
	if record.LeaseExpired(now) {
		return backend.ErrLeaseExpired(string(jobID))
	}

	record.Complete(resultRef)
	b.broadcaster.send(queue.Event{Kind: queue.EventCompleted, JobID: jobID, TenantID: qctx.TenantID, Queue: record.Message.Queue, At: now})
	return nil
}

func (b *Backend) AckFail(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, errMsg string, retryAt time.Time) error {
	b.jobsMu.Lock()

	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		b.jobsMu.Unlock()
		return backend.ErrJobNotFound(string(jobID))
	}
	if record.Status.Kind == queue.StatusCanceled {
		b.jobsMu.Unlock()
		return backend.ErrJobCanceled(string(jobID))
	}
	if record.Status.IsTerminal() {
		b.jobsMu.Unlock()
		return backend.ErrJobAlreadyTerminal(string(jobID))
	}
	if record.LeaseToken != token {
		b.jobsMu.Unlock()
		return backend.ErrInvalidLeaseToken(string(jobID))
	}
	now := time.Now().UTC()
	if record.LeaseExpired(now) {
		b.jobsMu.Unlock()
		return backend.ErrLeaseExpired(string(jobID))
	}

	var (
		ev        queue.Event
		willRetry bool
	)
	if record.Attempt >= record.Message.MaxRetries {
		record.Fail("max retries exceeded: " + errMsg)
		ev = queue.Event{Kind: queue.EventFailed, JobID: jobID, TenantID: qctx.TenantID, Queue: record.Message.Queue, Error: record.LastError, At: now}
	} else if !retryAt.IsZero() {
		record.ScheduleRetry(retryAt)
		record.SetError(errMsg)
		willRetry = true
		ev = queue.Event{Kind: queue.EventRetrying, JobID: jobID, TenantID: qctx.TenantID, Queue: record.Message.Queue, RetryAt: retryAt, Error: errMsg, At: now}
	} else {
		record.Fail(errMsg)
		ev = queue.Event{Kind: queue.EventFailed, JobID: jobID, TenantID: qctx.TenantID, Queue: record.Message.Queue, Error: errMsg, At: now}
	}
	tenantID, queueName := record.TenantID, record.Message.Queue
	b.jobsMu.Unlock()

	if willRetry {
		b.pushBack(tenantID, queueName, jobID)
	}
	b.broadcaster.send(ev)
	return nil
}

func (b *Backend) HeartbeatExtend(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, extra time.Duration) (time.Time, error) {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()

	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		return time.Time{}, backend.ErrJobNotFound(string(jobID))
	}
	if record.Status.Kind == queue.StatusCanceled {
		return time.Time{}, backend.ErrJobCanceled(string(jobID))
	}
	if record.LeaseToken != token {
		return time.Time{}, backend.ErrInvalidLeaseToken(string(jobID))
	}

	record.LeaseUntil = record.LeaseUntil.Add(extra)
	record.Status.LeaseUntil = record.LeaseUntil
	return record.LeaseUntil, nil
}

func (b *Backend) Cancel(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (bool, error) {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()

	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		return false, backend.ErrJobNotFound(string(jobID))
	}
	if record.Status.IsTerminal() {
		return false, nil
	}

	record.Cancel()
	b.broadcaster.send(queue.Event{Kind: queue.EventCanceled, JobID: jobID, TenantID: qctx.TenantID, Queue: record.Message.Queue, At: time.Now().UTC()})
	return true, nil
}

func (b *Backend) GetStatus(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (queue.Status, error) {
	b.jobsMu.RLock()
	defer b.jobsMu.RUnlock()
	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		return queue.Status{}, backend.ErrJobNotFound(string(jobID))
	}
	return record.Status, nil
}

func (b *Backend) GetRecord(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (*queue.Record, error) {
	b.jobsMu.RLock()
	defer b.jobsMu.RUnlock()
	record, ok := b.jobs[jobID]
	if !ok || record.TenantID != qctx.TenantID {
		return nil, backend.ErrJobNotFound(string(jobID))
	}
	clone := *record
	return &clone, nil
}

func (b *Backend) EventStream(ctx context.Context, qctx queue.Ctx) (<-chan queue.Event, error) {
	sub, cancel := b.broadcaster.subscribe()
	out := make(chan queue.Event, broadcastCapacity)

	go func() {
		defer close(out)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.TenantID != qctx.TenantID {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
