// Copyright 2025 James Ross
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flyingrobots/dogqueue/internal/jobs"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"go.uber.org/zap"
)

// WorkerHandle controls a running worker pool started by StartWorkers.
type WorkerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown signals every worker to stop after its current job and waits for
// them to exit, or for ctx to be done, whichever comes first.
func (h *WorkerHandle) Shutdown(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartWorkers spawns cfg.MaxWorkers goroutines, each repeatedly dequeuing
// from queues under qctx's tenant, executing via the job registry, and
// acking success or failure with retry backoff. It returns immediately with
// a handle to stop the pool.
func (a *Adapter) StartWorkers(parent context.Context, qctx queue.Ctx, queues []string, userCtx any) *WorkerHandle {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < a.cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.workerLoop(ctx, qctx, queues, userCtx)
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	return &WorkerHandle{cancel: cancel, done: done}
}

func (a *Adapter) workerLoop(ctx context.Context, qctx queue.Ctx, queues []string, userCtx any) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		found, err := a.processNextJob(ctx, qctx, queues, userCtx)
		if err != nil {
			a.log.Warn("adapter: worker iteration failed", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if !found {
			sleep(ctx, 100*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// processNextJob dequeues and executes at most one job, acking the result.
// It returns found=false when no job was currently eligible.
func (a *Adapter) processNextJob(ctx context.Context, qctx queue.Ctx, queues []string, userCtx any) (found bool, err error) {
	leased, err := a.backend.Dequeue(ctx, qctx, queues, a.cfg.LeaseDuration)
	if err != nil {
		return false, err
	}
	if leased == nil {
		return false, nil
	}

	record := leased.Record
	jobCtx := jobs.JobContext{JobID: record.JobID, TenantID: record.TenantID, Attempt: record.Attempt}

	c, err := a.codecs.Get(record.Message.Codec)
	if err != nil {
		a.ackFail(ctx, qctx, record, leased.LeaseToken, err.Error())
		return true, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, a.cfg.JobTimeout)
	defer cancel()

	stop := make(chan struct{})
	if a.cfg.HeartbeatInterval > 0 {
		go a.heartbeat(execCtx, qctx, leased, stop)
	}

	start := time.Now()
	result, execErr := a.jobs.Execute(execCtx, jobCtx, record.Message.JobType, record.Message.PayloadBytes, c, userCtx)
	duration := time.Since(start)
	close(stop)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) && execErr == nil {
		execErr = fmt.Errorf("adapter: job execution exceeded its %s timeout", a.cfg.JobTimeout)
	}

	if execErr == nil {
		resultRef, err := c.Encode(result)
		if err != nil {
			resultRef = nil
		}
		if err := a.backend.AckComplete(ctx, qctx, record.JobID, leased.LeaseToken, resultRef); err != nil {
			return true, err
		}
		a.observer.JobCompleted(record.Message.JobType, duration)
		return true, nil
	}

	if isRetryable(execErr) && record.CanRetry() {
		retryAt := calculateRetryTime(time.Now().UTC(), record.Attempt, a.cfg.BaseRetryBackoff, a.cfg.MaxRetryBackoff)
		if err := a.backend.AckFail(ctx, qctx, record.JobID, leased.LeaseToken, execErr.Error(), retryAt); err != nil {
			return true, err
		}
		a.observer.JobRetrying(record.Message.JobType, duration)
		return true, nil
	}

	if err := a.backend.AckFail(ctx, qctx, record.JobID, leased.LeaseToken, execErr.Error(), time.Time{}); err != nil {
		return true, err
	}
	a.observer.JobFailed(record.Message.JobType, duration)
	return true, nil
}

// heartbeat extends leased's lease every cfg.HeartbeatInterval until stop is
// closed or ctx is done, so a handler that runs long but is still alive
// doesn't lose its lease to the reaper mid-execution.
func (a *Adapter) heartbeat(ctx context.Context, qctx queue.Ctx, leased *queue.Leased, stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if !leased.LeaseValid(now) {
				a.log.Warn("adapter: lease expired before heartbeat could extend it", zap.String("job_id", string(leased.JobIDOf())))
				return
			}
			newUntil, err := a.backend.HeartbeatExtend(ctx, qctx, leased.JobIDOf(), leased.LeaseToken, a.cfg.LeaseDuration)
			if err != nil {
				a.log.Warn("adapter: heartbeat extend failed", zap.String("job_id", string(leased.JobIDOf())), zap.Error(err))
				return
			}
			leased.LeaseUntil = newUntil
			a.log.Debug("adapter: heartbeat extended lease",
				zap.String("job_id", string(leased.JobIDOf())),
				zap.Duration("remaining", leased.LeaseRemaining(now)))
		}
	}
}

func (a *Adapter) ackFail(ctx context.Context, qctx queue.Ctx, record *queue.Record, token queue.LeaseToken, msg string) {
	if err := a.backend.AckFail(ctx, qctx, record.JobID, token, msg, time.Time{}); err != nil {
		a.log.Warn("adapter: ack_fail after codec error also failed", zap.Error(err))
	}
}

type retryableError interface{ Retryable() bool }

// isRetryable reports whether err's kind allows another attempt; errors that
// don't express an opinion default to retryable.
func isRetryable(err error) bool {
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
