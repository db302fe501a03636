// Copyright 2025 James Ross
package adapter

import (
	"context"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/flyingrobots/dogqueue/internal/codec"
	"github.com/flyingrobots/dogqueue/internal/jobs"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"go.uber.org/zap"
)

// Adapter binds a storage backend, codec registry, and job registry into a
// runnable unit: producers call Enqueue, tests call ExecuteNow, and
// StartWorkers spins up the worker pool that actually drains the queue.
type Adapter struct {
	backend  backend.Backend
	codecs   *codec.Registry
	jobs     *jobs.Registry
	observer Observer
	cfg      Config
	log      *zap.Logger
}

// New returns an Adapter over b with default config, a fresh job registry,
// the default JSON-only codec registry, a no-op observer, and log (a no-op
// logger if log is nil). Use the With* methods to customize before starting
// workers.
func New(b backend.Backend, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		backend:  b,
		codecs:   codec.NewRegistry(),
		jobs:     jobs.NewRegistry(),
		observer: NoopObserver,
		cfg:      DefaultConfig(),
		log:      log,
	}
}

func (a *Adapter) WithConfig(cfg Config) *Adapter {
	a.cfg = cfg
	return a
}

func (a *Adapter) WithCodecRegistry(r *codec.Registry) *Adapter {
	a.codecs = r
	return a
}

func (a *Adapter) WithObserver(o Observer) *Adapter {
	a.observer = o
	return a
}

// JobRegistry exposes the adapter's job registry, e.g. for RegisterJob.
func (a *Adapter) JobRegistry() *jobs.Registry { return a.jobs }

// RegisterJob registers J against a's job registry.
func RegisterJob[J jobs.Job[C, Res], C any, Res any](a *Adapter, newInstance func() J) error {
	return jobs.Register[J, C, Res](a.jobs, newInstance)
}

// EnqueueOptions configures one Enqueue call.
type EnqueueOptions struct {
	Queue          string
	Priority       queue.Priority
	MaxRetries     uint32
	RunAt          time.Time
	IdempotencyKey string
	Codec          string
}

func defaultEnqueueOptions() EnqueueOptions {
	return EnqueueOptions{Queue: "default", Priority: queue.Normal, MaxRetries: 3}
}

// Enqueue encodes job via a's default (or opts.Codec) codec and durably
// records it through the backend.
func Enqueue[J jobs.Job[C, Res], C any, Res any](ctx context.Context, a *Adapter, qctx queue.Ctx, job J, opts EnqueueOptions) (queue.JobID, error) {
	defaults := defaultEnqueueOptions()
	if opts.Queue == "" {
		opts.Queue = defaults.Queue
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.RunAt.IsZero() {
		opts.RunAt = time.Now().UTC()
	}

	c := a.codecs.Default()
	if opts.Codec != "" {
		var err error
		c, err = a.codecs.Get(opts.Codec)
		if err != nil {
			return "", err
		}
	}

	payload, err := c.Encode(job)
	if err != nil {
		return "", backend.NewError(backend.SerializationError, err.Error())
	}

	message := queue.Message{
		JobType:        job.JobType(),
		PayloadBytes:   payload,
		Codec:          c.ID(),
		Queue:          opts.Queue,
		Priority:       opts.Priority,
		MaxRetries:     opts.MaxRetries,
		RunAt:          opts.RunAt,
		IdempotencyKey: opts.IdempotencyKey,
	}

	jobID, err := a.backend.Enqueue(ctx, qctx, message)
	if err != nil {
		return "", err
	}
	a.observer.JobEnqueued(job.JobType(), opts.Queue)
	return jobID, nil
}

// ExecuteNow runs job directly against userCtx, bypassing the backend
// entirely: no job record, no idempotency check, no retry. Intended for
// tests and local development.
func ExecuteNow[J jobs.Job[C, Res], C any, Res any](ctx context.Context, a *Adapter, job J, userCtx C) (Res, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.ExecuteNowTimeout)
	defer cancel()
	return job.Execute(ctx, jobs.JobContext{}, userCtx)
}
