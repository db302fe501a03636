// Copyright 2025 James Ross
// Package redisqueue is a Redis-backed implementation of backend.Backend,
// durable across process restarts and shared by every worker pointed at the
// same Redis instance. Per-tenant sorted sets provide priority+FIFO
// ordering; a Lua script makes the pop-and-lease transition atomic; an
// optimistic compare-and-swap script guards every other state transition
// against concurrent ack/cancel/heartbeat calls.
package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"github.com/redis/go-redis/v9"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	casRetries            = 5
)

// Backend is a Redis-backed backend.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	client      *redis.Client
	idemTTL     time.Duration
	eventBuffer int
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Reapable = (*Backend)(nil)

// New wraps an existing go-redis client. The caller owns the client's
// lifecycle (including Close).
func New(client *redis.Client) *Backend {
	return &Backend{client: client, idemTTL: defaultIdempotencyTTL, eventBuffer: 64}
}

// WithIdempotencyTTL overrides how long an idempotency reservation lives,
// counted from the Enqueue that made it. The reservation is not released
// when the job it guards reaches a terminal state: until the TTL lapses,
// Enqueue with the same key returns the original job ID.
func (b *Backend) WithIdempotencyTTL(ttl time.Duration) *Backend {
	b.idemTTL = ttl
	return b
}

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
	tenant := qctx.TenantID
	now := time.Now().UTC()
	runAt := message.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	jobID := queue.NewJobID()
	record := queue.NewRecord(jobID, tenant, message)
	data, err := json.Marshal(record)
	if err != nil {
		return "", backend.NewError(backend.SerializationError, err.Error())
	}

	mode := "pending"
	target := pendingKey(tenant, message.Queue)
	if record.Status.Kind == queue.StatusScheduled {
		mode = "sched"
		target = scheduledKey(tenant, message.Queue)
	}

	var idemK string
	if message.IdempotencyKey != "" {
		idemK = idemKey(tenant, message.Queue, message.JobType, message.IdempotencyKey)
	}

	tier := 3 - int(message.Priority)
	keys := []string{jobKey(tenant, string(jobID)), target, seqKey(tenant, message.Queue), idemK}
	res, err := enqueueScript.Run(ctx, b.client, keys,
		string(jobID), string(data), tier, mode, runAt.UnixNano(), int(b.idemTTL.Seconds()),
	).Result()
	if err != nil {
		return "", backend.NewError(backend.Internal, err.Error())
	}

	returnedID := queue.JobID(res.(string))
	if returnedID != jobID {
		return returnedID, nil
	}

	if err := b.client.SAdd(ctx, tenantsSetKey, tenant).Err(); err != nil {
		return "", backend.NewError(backend.Internal, err.Error())
	}

	b.publish(ctx, tenant, queue.Event{Kind: queue.EventEnqueued, JobID: jobID, TenantID: tenant, Queue: message.Queue, At: now})
	return jobID, nil
}

func (b *Backend) Dequeue(ctx context.Context, qctx queue.Ctx, queues []string, leaseDuration time.Duration) (*queue.Leased, error) {
	tenant := qctx.TenantID
	now := time.Now().UTC()
	leaseUntil := now.Add(leaseDuration)

	keys := make([]string, 0, len(queues)*2+1)
	for _, q := range queues {
		keys = append(keys, pendingKey(tenant, q), scheduledKey(tenant, q))
	}
	keys = append(keys, processingKey(tenant))

	res, err := dequeueScript.Run(ctx, b.client, keys,
		now.UnixNano(), leaseUntil.UnixNano(), len(queues), jobKeyPrefix(tenant),
	).Result()
	if err != nil {
		return nil, backend.NewError(backend.Internal, err.Error())
	}
	if res == nil {
		return nil, nil
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return nil, nil
	}
	jobID := queue.JobID(arr[0].(string))
	raw := arr[1].(string)

	var record queue.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, backend.NewError(backend.SerializationError, err.Error())
	}

	token := queue.NewLeaseToken()
	record.Attempt++
	record.StartProcessing(token, leaseUntil)
	if err := b.save(ctx, tenant, &record); err != nil {
		return nil, err
	}

	b.publish(ctx, tenant, queue.Event{Kind: queue.EventLeased, JobID: jobID, TenantID: tenant, Queue: record.Message.Queue, At: now})
	return &queue.Leased{Record: &record, LeaseToken: token, LeaseUntil: leaseUntil}, nil
}

func (b *Backend) AckComplete(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, resultRef []byte) error {
	tenant := qctx.TenantID
	var ev queue.Event
	err := b.transition(ctx, tenant, jobID, func(record *queue.Record) error {
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
		ev = queue.Event{Kind: queue.EventCompleted, JobID: jobID, TenantID: tenant, Queue: record.Message.Queue, At: now}
		return nil
	})
	if err != nil {
		return err
	}
	b.client.ZRem(ctx, processingKey(tenant), string(jobID))
	b.publish(ctx, tenant, ev)
	return nil
}

func (b *Backend) AckFail(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, errMsg string, retryAt time.Time) error {
	tenant := qctx.TenantID
	var (
		ev        queue.Event
		willRetry bool
		queueName string
	)
	err := b.transition(ctx, tenant, jobID, func(record *queue.Record) error {
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
		queueName = record.Message.Queue
		switch {
		case record.Attempt >= record.Message.MaxRetries:
			record.Fail("max retries exceeded: " + errMsg)
			ev = queue.Event{Kind: queue.EventFailed, JobID: jobID, TenantID: tenant, Queue: queueName, Error: record.LastError, At: now}
		case !retryAt.IsZero():
			record.ScheduleRetry(retryAt)
			record.SetError(errMsg)
			willRetry = true
			ev = queue.Event{Kind: queue.EventRetrying, JobID: jobID, TenantID: tenant, Queue: queueName, RetryAt: retryAt, Error: errMsg, At: now}
		default:
			record.Fail(errMsg)
			ev = queue.Event{Kind: queue.EventFailed, JobID: jobID, TenantID: tenant, Queue: queueName, Error: errMsg, At: now}
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.client.ZRem(ctx, processingKey(tenant), string(jobID))
	if willRetry {
		score := retryAt.UnixNano()
		b.client.ZAdd(ctx, scheduledKey(tenant, queueName), redis.Z{Score: float64(score), Member: string(jobID)})
	}
	b.publish(ctx, tenant, ev)
	return nil
}

func (b *Backend) HeartbeatExtend(ctx context.Context, qctx queue.Ctx, jobID queue.JobID, token queue.LeaseToken, extra time.Duration) (time.Time, error) {
	tenant := qctx.TenantID
	var newLeaseUntil time.Time
	err := b.transition(ctx, tenant, jobID, func(record *queue.Record) error {
		if record.Status.Kind == queue.StatusCanceled {
			return backend.ErrJobCanceled(string(jobID))
		}
		if record.LeaseToken != token {
			return backend.ErrInvalidLeaseToken(string(jobID))
		}
		record.LeaseUntil = record.LeaseUntil.Add(extra)
		record.Status.LeaseUntil = record.LeaseUntil
		newLeaseUntil = record.LeaseUntil
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	b.client.ZAdd(ctx, processingKey(tenant), redis.Z{Score: float64(newLeaseUntil.UnixNano()), Member: string(jobID)})
	return newLeaseUntil, nil
}

func (b *Backend) Cancel(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (bool, error) {
	tenant := qctx.TenantID
	var (
		ev        queue.Event
		canceled  bool
		queueName string
	)
	err := b.transition(ctx, tenant, jobID, func(record *queue.Record) error {
		if record.Status.IsTerminal() {
			return nil
		}
		queueName = record.Message.Queue
		record.Cancel()
		canceled = true
		ev = queue.Event{Kind: queue.EventCanceled, JobID: jobID, TenantID: tenant, Queue: queueName, At: time.Now().UTC()}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !canceled {
		return false, nil
	}

	b.client.ZRem(ctx, processingKey(tenant), string(jobID))
	b.client.ZRem(ctx, pendingKey(tenant, queueName), string(jobID))
	b.client.ZRem(ctx, scheduledKey(tenant, queueName), string(jobID))
	b.publish(ctx, tenant, ev)
	return true, nil
}

func (b *Backend) GetStatus(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (queue.Status, error) {
	record, err := b.load(ctx, qctx.TenantID, jobID)
	if err != nil {
		return queue.Status{}, err
	}
	return record.Status, nil
}

func (b *Backend) GetRecord(ctx context.Context, qctx queue.Ctx, jobID queue.JobID) (*queue.Record, error) {
	return b.load(ctx, qctx.TenantID, jobID)
}

func (b *Backend) EventStream(ctx context.Context, qctx queue.Ctx) (<-chan queue.Event, error) {
	sub := b.client.Subscribe(ctx, eventsChannel(qctx.TenantID))
	raw := sub.Channel()
	out := make(chan queue.Event, b.eventBuffer)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev queue.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
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

func (b *Backend) load(ctx context.Context, tenant string, jobID queue.JobID) (*queue.Record, error) {
	raw, err := b.client.Get(ctx, jobKey(tenant, string(jobID))).Result()
	if err == redis.Nil {
		return nil, backend.ErrJobNotFound(string(jobID))
	}
	if err != nil {
		return nil, backend.NewError(backend.Internal, err.Error())
	}
	var record queue.Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, backend.NewError(backend.SerializationError, err.Error())
	}
	if record.TenantID != tenant {
		return nil, backend.ErrJobNotFound(string(jobID))
	}
	return &record, nil
}

func (b *Backend) save(ctx context.Context, tenant string, record *queue.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return backend.NewError(backend.SerializationError, err.Error())
	}
	if err := b.client.Set(ctx, jobKey(tenant, string(record.JobID)), data, 0).Err(); err != nil {
		return backend.NewError(backend.Internal, err.Error())
	}
	return nil
}

// transition loads jobID, applies mutate (which may itself return a domain
// error, e.g. ErrInvalidLeaseToken, without touching the record), and writes
// the result back guarded by an optimistic compare-and-swap so a concurrent
// cancel or ack cannot silently clobber another writer's update. It never
// retries past a domain error returned by mutate, only past lost CAS races.
func (b *Backend) transition(ctx context.Context, tenant string, jobID queue.JobID, mutate func(*queue.Record) error) error {
	key := jobKey(tenant, string(jobID))

	for attempt := 0; attempt < casRetries; attempt++ {
		raw, err := b.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return backend.ErrJobNotFound(string(jobID))
		}
		if err != nil {
			return backend.NewError(backend.Internal, err.Error())
		}

		var record queue.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return backend.NewError(backend.SerializationError, err.Error())
		}
		if record.TenantID != tenant {
			return backend.ErrJobNotFound(string(jobID))
		}

		if err := mutate(&record); err != nil {
			return err
		}

		newData, err := json.Marshal(&record)
		if err != nil {
			return backend.NewError(backend.SerializationError, err.Error())
		}

		ok, err := casScript.Run(ctx, b.client, []string{key}, raw, string(newData)).Int()
		if err != nil {
			return backend.NewError(backend.Internal, err.Error())
		}
		if ok == 1 {
			return nil
		}
		// lost the race against a concurrent writer; reload and retry
	}
	return backend.NewError(backend.Internal, fmt.Sprintf("too much contention updating job %s", jobID))
}

// QueueDepth reports the combined pending+scheduled length of a tenant's
// queue, for metrics sampling. It does not require a queue.Ctx since it is
// a cross-cutting observability read, not a tenant-scoped queue operation.
func (b *Backend) QueueDepth(ctx context.Context, tenant, queueName string) (int64, error) {
	pending, err := b.client.ZCard(ctx, pendingKey(tenant, queueName)).Result()
	if err != nil {
		return 0, backend.NewError(backend.Internal, err.Error())
	}
	scheduled, err := b.client.ZCard(ctx, scheduledKey(tenant, queueName)).Result()
	if err != nil {
		return 0, backend.NewError(backend.Internal, err.Error())
	}
	return pending + scheduled, nil
}

// ProcessingDepth reports the number of jobs currently leased for tenant.
func (b *Backend) ProcessingDepth(ctx context.Context, tenant string) (int64, error) {
	n, err := b.client.ZCard(ctx, processingKey(tenant)).Result()
	if err != nil {
		return 0, backend.NewError(backend.Internal, err.Error())
	}
	return n, nil
}

// Tenants returns every tenant that has ever enqueued a job on this backend.
func (b *Backend) Tenants(ctx context.Context) ([]string, error) {
	tenants, err := b.client.SMembers(ctx, tenantsSetKey).Result()
	if err != nil {
		return nil, backend.NewError(backend.Internal, err.Error())
	}
	return tenants, nil
}

func (b *Backend) publish(ctx context.Context, tenant string, ev queue.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	b.client.Publish(ctx, eventsChannel(tenant), data)
}
