package memory

import (
	"context"
	"testing"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCtx() queue.Ctx { return queue.NewCtx("test_tenant") }

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
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)

	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, jobID, leased.Record.JobID)
	assert.Equal(t, uint32(1), leased.Record.Attempt)
}

func TestDequeueReturnsNilWhenEmpty(t *testing.T) {
	b := New()
	leased, err := b.Dequeue(context.Background(), testCtx(), []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, leased)
}

func TestIdempotencySameKeyReturnsSameJob(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()
	msg := testMessage()
	msg.IdempotencyKey = "order-123"

	id1, err := b.Enqueue(ctx, qctx, msg)
	require.NoError(t, err)
	id2, err := b.Enqueue(ctx, qctx, msg)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestIdempotencyScopedByTenant(t *testing.T) {
	b := New()
	ctx := context.Background()
	msg := testMessage()
	msg.IdempotencyKey = "order-123"

	id1, err := b.Enqueue(ctx, queue.NewCtx("tenant-a"), msg)
	require.NoError(t, err)
	id2, err := b.Enqueue(ctx, queue.NewCtx("tenant-b"), msg)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestAckCompletePersistsResultRef(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	require.NoError(t, b.AckComplete(ctx, qctx, jobID, leased.LeaseToken, []byte(`{"ok":true}`)))

	record, err := b.GetRecord(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"ok":true}`), record.ResultRef)
}

func TestCancelWinsOverAckComplete(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	canceled, err := b.Cancel(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.True(t, canceled)

	err = b.AckComplete(ctx, qctx, jobID, leased.LeaseToken, nil)
	require.Error(t, err)
	var qerr *backend.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, backend.JobCanceled, qerr.Kind)
}

func TestCancelWinsOverAckFail(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	_, err = b.Cancel(ctx, qctx, jobID)
	require.NoError(t, err)

	err = b.AckFail(ctx, qctx, jobID, leased.LeaseToken, "boom", time.Time{})
	require.Error(t, err)
	var qerr *backend.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, backend.JobCanceled, qerr.Kind)
}

func TestOnlyLeaseHolderCanAck(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	err = b.AckComplete(ctx, qctx, jobID, queue.NewLeaseToken(), nil)
	require.Error(t, err)
	var qerr *backend.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, backend.InvalidLeaseToken, qerr.Kind)
}

func TestAckFailSchedulesRetryWithinMaxRetries(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	retryAt := time.Now().UTC()
	err = b.AckFail(ctx, qctx, jobID, leased.LeaseToken, "transient", retryAt)
	require.NoError(t, err)

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetrying, status.Kind)

	retried, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, uint32(2), retried.Record.Attempt)
}

func TestAckFailPermanentWhenNoRetryAt(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	leased, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	err = b.AckFail(ctx, qctx, jobID, leased.LeaseToken, "permanent", time.Time{})
	require.NoError(t, err)

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, status.Kind)
}

func TestLeaseExpiryReaperReclaimsAndRelease(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	jobID, err := b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	b.ForceLeaseExpiry(jobID)

	reclaimed, err := b.RunReaperTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	retried, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, uint32(2), retried.Record.Attempt)
}

func TestLeaseExpiryReaperFailsWhenMaxRetriesExceeded(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()
	msg := testMessage()
	msg.MaxRetries = 1

	jobID, err := b.Enqueue(ctx, qctx, msg)
	require.NoError(t, err)
	_, err = b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)

	b.ForceLeaseExpiry(jobID)
	reclaimed, err := b.RunReaperTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	status, err := b.GetStatus(ctx, qctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, status.Kind)
}

func TestPriorityOrderingHighBeforeNormal(t *testing.T) {
	b := New()
	ctx := context.Background()
	qctx := testCtx()

	normalMsg := testMessage()
	normalMsg.Priority = queue.Normal
	normalID, err := b.Enqueue(ctx, qctx, normalMsg)
	require.NoError(t, err)

	highMsg := testMessage()
	highMsg.Priority = queue.High
	highID, err := b.Enqueue(ctx, qctx, highMsg)
	require.NoError(t, err)

	first, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, highID, first.Record.JobID)

	second, err := b.Dequeue(ctx, qctx, []string{"default"}, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, normalID, second.Record.JobID)
}

func TestEventStreamReceivesEnqueued(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qctx := testCtx()

	events, err := b.EventStream(ctx, qctx)
	require.NoError(t, err)

	_, err = b.Enqueue(ctx, qctx, testMessage())
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, queue.EventEnqueued, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enqueued event")
	}
}
