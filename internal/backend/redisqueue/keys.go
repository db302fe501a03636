// Copyright 2025 James Ross
package redisqueue

import "fmt"

// Key layout, all namespaced by tenant so one Redis instance can safely
// back many tenants:
//
//	dogqueue:{tenant}:job:{jobID}              string   JSON-encoded queue.Record
//	dogqueue:{tenant}:{queue}:pending          zset     jobID -> priority/FIFO score, ready to dequeue
//	dogqueue:{tenant}:{queue}:scheduled        zset     jobID -> RunAt/RetryAt unix nanos, not yet ready
//	dogqueue:{tenant}:processing                zset     jobID -> LeaseUntil unix nanos, across all queues
//	dogqueue:{tenant}:idem:{queue}:{jobType}:{key} string jobID, reserved atomically by enqueueScript for idempotency
//	dogqueue:{tenant}:events                    pubsub channel, JSON-encoded queue.Event

func jobKey(tenant, jobID string) string {
	return fmt.Sprintf("dogqueue:%s:job:%s", tenant, jobID)
}

func pendingKey(tenant, queueName string) string {
	return fmt.Sprintf("dogqueue:%s:%s:pending", tenant, queueName)
}

func scheduledKey(tenant, queueName string) string {
	return fmt.Sprintf("dogqueue:%s:%s:scheduled", tenant, queueName)
}

func processingKey(tenant string) string {
	return fmt.Sprintf("dogqueue:%s:processing", tenant)
}

func idemKey(tenant, queueName, jobType, key string) string {
	return fmt.Sprintf("dogqueue:%s:idem:%s:%s:%s", tenant, queueName, jobType, key)
}

func eventsChannel(tenant string) string {
	return fmt.Sprintf("dogqueue:%s:events", tenant)
}

func seqKey(tenant, queueName string) string {
	return fmt.Sprintf("dogqueue:%s:%s:seq", tenant, queueName)
}

func jobKeyPrefix(tenant string) string {
	return fmt.Sprintf("dogqueue:%s:job:", tenant)
}

// tenantsSetKey tracks every tenant that has ever enqueued a job, so a
// backend-wide ReapExpiredLeases can find every tenant's processing zset
// without a separate tenant directory service.
const tenantsSetKey = "dogqueue:tenants"
