// Copyright 2025 James Ross
package memory

import (
	"context"
	"time"

	"github.com/flyingrobots/dogqueue/internal/queue"
)

// ReapExpiredLeases reclaims every Processing job whose lease has expired as
// of now: jobs with attempts remaining go back to Retrying (immediately
// eligible, re-enqueued at the back of their queue to preserve FIFO order
// among already-eligible jobs); jobs out of attempts are marked Failed.
func (b *Backend) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	type expired struct {
		jobID    queue.JobID
		tenantID string
		queue    string
	}

	b.jobsMu.RLock()
	var candidates []expired
	for id, record := range b.jobs {
		if record.Status.Kind == queue.StatusProcessing && record.LeaseExpired(now) {
			candidates = append(candidates, expired{jobID: id, tenantID: record.TenantID, queue: record.Message.Queue})
		}
	}
	b.jobsMu.RUnlock()

	reclaimed := 0
	for _, c := range candidates {
		var (
			ev        queue.Event
			willRetry bool
		)

		b.jobsMu.Lock()
		record, ok := b.jobs[c.jobID]
		if !ok || record.Status.Kind != queue.StatusProcessing || !record.LeaseExpired(now) {
			b.jobsMu.Unlock()
			continue
		}

		if record.Attempt >= record.Message.MaxRetries {
			record.Fail("max retries exceeded due to lease expiry")
			record.SetError("lease expired")
			ev = queue.Event{Kind: queue.EventFailed, JobID: c.jobID, TenantID: c.tenantID, Queue: c.queue, Error: record.LastError, At: now}
		} else {
			record.ScheduleRetry(now)
			record.SetError("lease expired")
			willRetry = true
			ev = queue.Event{Kind: queue.EventRetrying, JobID: c.jobID, TenantID: c.tenantID, Queue: c.queue, RetryAt: now, Error: "lease expired", At: now}
		}
		b.jobsMu.Unlock()

		if willRetry {
			b.pushBack(c.tenantID, c.queue, c.jobID)
		}
		b.broadcaster.send(ev)
		reclaimed++
	}

	return reclaimed, nil
}

// ForceLeaseExpiry is a test seam: it sets job's lease_until into the past so
// a reaper tick will reclaim it deterministically, without sleeping in tests.
func (b *Backend) ForceLeaseExpiry(jobID queue.JobID) {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()
	record, ok := b.jobs[jobID]
	if !ok || record.Status.Kind != queue.StatusProcessing {
		return
	}
	record.LeaseUntil = time.Now().UTC().Add(-time.Second)
	record.Status.LeaseUntil = record.LeaseUntil
}

// RunReaperTick is a test seam: one synchronous reaper cycle, for tests that
// don't want to wait on a ticker.
func (b *Backend) RunReaperTick(ctx context.Context) (int, error) {
	return b.ReapExpiredLeases(ctx, time.Now().UTC())
}
