package redisqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Backend {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client)
}

func testMessage() queue.Message {
	return queue.Message{
		JobType:    "test_job",
		Codec:      "json",
		Queue:      "default",
		Priority:   queue.Normal,
		MaxRetries: 3,
		RunAt:      time.Now().UTC(),
	}
}

func TestEnqueueDequeueIncrementsAttempt(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)

	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, jobID, leased.Record.JobID)
	assert.Equal(t, uint32(1), leased.Record.Attempt)
	assert.Equal(t, queue.StatusProcessing, leased.Record.Status.Kind)
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, leased)
}

func TestIdempotencySameKeyReturnsSameJob(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	msg := testMessage()
	msg.IdempotencyKey = "order-123"

	id1, err := b.Enqueue(ctx, qctx, msg)
	require.NoError(t, err)
	id2, err := b.Enqueue(ctx, qctx, msg)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestCancelWinsOverAckComplete(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	ok, err := b.Cancel(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)

	err = b.AckComplete(ctx, qctx, jobID, leased.LeaseToken, nil)
	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, backend.JobCanceled, berr.Kind)
}

func TestOnlyLeaseHolderCanAck(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	err = b.AckComplete(ctx, qctx, jobID, queue.LeaseToken("wrong-token"), nil)
	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, backend.InvalidLeaseToken, berr.Kind)
}

func TestAckFailSchedulesRetryWithinMaxRetries(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	retryAt := time.Now().UTC().Add(-time.Second) // already due
	require.NoError(t, b.AckFail(ctx, qctx, jobID, leased.LeaseToken, "boom", retryAt))

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetrying, status.Kind)

	leased2, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, leased2)
	assert.Equal(t, uint32(2), leased2.Record.Attempt)
}

func TestAckFailPermanentWhenNoRetryAt(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, b.AckFail(ctx, qctx, jobID, leased.LeaseToken, "fatal", time.Time{}))

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, status.Kind)
}

func TestPriorityOrderingHighBeforeNormal(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	normalMsg := testMessage()
	normalMsg.Priority = queue.Normal
	_, err := b.Enqueue(ctx, qctx, normalMsg)
	require.NoError(t, err)

	highMsg := testMessage()
	highMsg.Priority = queue.High
	highID, err := b.Enqueue(ctx, qctx, highMsg)
	require.NoError(t, err)

	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, highID, leased.Record.JobID)
}

func TestLeaseExpiryReaperReclaims(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, qctx, []string{"default"}, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	reclaimed, err := b.ReapExpiredLeases(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetrying, status.Kind)
}

func TestHeartbeatExtendExtendsLease(t *testing.T) {
	b := setup(t)
	ctx := context.Background()
	qctx := queue.NewCtx("tenant-a")

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	newUntil, err := b.HeartbeatExtend(ctx, qctx, jobID, leased.LeaseToken, time.Minute)
	require.NoError(t, err)
	assert.True(t, newUntil.After(leased.LeaseUntil))
}

func TestEventStreamReceivesEnqueued(t *testing.T) {
	b := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qctx := queue.NewCtx("tenant-a")

	events, err := b.EventStream(ctx, qctx)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond) // let the subscription establish
	_, err = b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, queue.EventEnqueued, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enqueued event")
	}
}
