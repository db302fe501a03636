// Copyright 2025 James Ross
package redisqueue

import (
	"context"
	"strconv"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

// ReapExpiredLeases scans every known tenant's processing zset for jobs
// whose lease expired before now, and reclaims each one: Retrying if
// attempts remain, Failed otherwise. A job already moved on by a concurrent
// ack is silently skipped via the same optimistic CAS used elsewhere.
func (b *Backend) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	tenants, err := b.client.SMembers(ctx, tenantsSetKey).Result()
	if err != nil {
		return 0, backend.NewError(backend.Internal, err.Error())
	}

	reclaimed := 0
	for _, tenant := range tenants {
		n, err := b.reapTenant(ctx, tenant, now)
		if err != nil {
			return reclaimed, err
		}
		reclaimed += n
	}
	return reclaimed, nil
}

func (b *Backend) reapTenant(ctx context.Context, tenant string, now time.Time) (int, error) {
	expired, err := b.client.ZRangeByScore(ctx, processingKey(tenant), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixNano(), 10),
	}).Result()
	if err != nil {
		return 0, backend.NewError(backend.Internal, err.Error())
	}

	reclaimed := 0
	for _, jobIDStr := range expired {
		jobID := queue.JobID(jobIDStr)
		var (
			ev        queue.Event
			willRetry bool
			queueName string
			reclaim   bool
		)
		err := b.transition(ctx, tenant, jobID, func(record *queue.Record) error {
			if record.Status.Kind != queue.StatusProcessing || !record.LeaseExpired(now) {
				return nil
			}
			reclaim = true
			queueName = record.Message.Queue
			if record.Attempt >= record.Message.MaxRetries {
				record.Fail("max retries exceeded due to lease expiry")
				record.SetError("lease expired")
				ev = queue.Event{Kind: queue.EventFailed, JobID: jobID, TenantID: tenant, Queue: queueName, Error: record.LastError, At: now}
			} else {
				record.ScheduleRetry(now)
				record.SetError("lease expired")
				willRetry = true
				ev = queue.Event{Kind: queue.EventRetrying, JobID: jobID, TenantID: tenant, Queue: queueName, RetryAt: now, Error: "lease expired", At: now}
			}
			return nil
		})
		if err != nil {
			continue
		}
		if !reclaim {
			continue
		}

		b.client.ZRem(ctx, processingKey(tenant), jobIDStr)
		if willRetry {
			b.client.ZAdd(ctx, scheduledKey(tenant, queueName), redis.Z{Score: float64(now.UnixNano()), Member: jobIDStr})
		}
		b.publish(ctx, tenant, ev)
		reclaimed++
	}
	return reclaimed, nil
}
