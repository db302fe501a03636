// Copyright 2025 James Ross
package adaptive

import (
	"context"
	"fmt"
	"time"

	"github.com/flyingrobots/dogqueue/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DepthFunc reports the current combined pending+scheduled queue depth,
// summed across whatever queues the caller cares about.
type DepthFunc func(ctx context.Context) (int64, error)

// Controller ties the ConcurrencyController, BackpressureDetector and
// PerformanceOptimizer together behind one cron-scheduled sampling loop,
// the adaptive counterpart to internal/reaper.Reaper.
type Controller struct {
	Concurrency *ConcurrencyController
	Backpressure *BackpressureDetector
	Optimizer   *PerformanceOptimizer
	Admission   *rate.Limiter

	depth      DepthFunc
	targetLoad float64
	log        *zap.Logger

	cron     *cron.Cron
	interval time.Duration
}

// New builds a Controller from cfg.Adaptive, sampling queue depth via depth.
func New(cfg config.Adaptive, depth DepthFunc, log *zap.Logger) *Controller {
	initial := cfg.MinConcurrency
	if mid := (cfg.MinConcurrency + cfg.MaxConcurrency) / 2; mid > initial {
		initial = mid
	}
	return &Controller{
		Concurrency:  NewConcurrencyController(initial, cfg.MinConcurrency, cfg.MaxConcurrency),
		Backpressure: NewBackpressureDetector(),
		Optimizer:    NewPerformanceOptimizer(),
		Admission:    rate.NewLimiter(rate.Limit(cfg.AdmissionRatePerSec), cfg.AdmissionBurst),
		depth:        depth,
		targetLoad:   1 - cfg.TargetErrorRate,
		log:          log,
		interval:     cfg.SampleInterval,
	}
}

// Start schedules the sampling tick on its own cron instance.
func (c *Controller) Start(ctx context.Context) error {
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.interval)
	if _, err := c.cron.AddFunc(spec, func() { c.tick(ctx) }); err != nil {
		return fmt.Errorf("adaptive: schedule tick: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the sampling schedule. Safe to call even if Start was never called.
func (c *Controller) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

func (c *Controller) tick(ctx context.Context) {
	inUse := c.Concurrency.InUse()
	current := c.Concurrency.Current()
	systemLoad := 0.0
	if current > 0 {
		systemLoad = float64(inUse) / float64(current)
	}

	var depth int64
	if c.depth != nil {
		d, err := c.depth(ctx)
		if err != nil {
			c.log.Warn("adaptive: queue depth sample failed", zap.Error(err))
		} else {
			depth = d
		}
	}

	target := c.Concurrency.CalculateOptimal(systemLoad, depth, c.targetLoad)
	if target != current {
		if err := c.Concurrency.Resize(ctx, target); err != nil {
			c.log.Warn("adaptive: concurrency resize failed", zap.Error(err))
		} else {
			c.log.Info("adaptive: concurrency adjusted",
				zap.Int64("from", current), zap.Int64("to", target),
				zap.Float64("system_load", systemLoad), zap.Int64("queue_depth", depth))
		}
	}

	if pressure := c.Backpressure.Detect(); pressure > 0.8 {
		c.log.Warn("adaptive: high backpressure detected", zap.Float64("pressure", pressure))
	}
}

// RecordJobOutcome feeds one job's duration/success into both the
// backpressure detector and the performance optimizer.
func (c *Controller) RecordJobOutcome(jobType string, dur time.Duration, success bool) {
	c.Backpressure.RecordResponseTime(dur)
	if success {
		c.Backpressure.RecordErrorRate(0)
	} else {
		c.Backpressure.RecordErrorRate(1)
	}
	c.Optimizer.RecordExecution(jobType, dur, success)
}

// AllowEnqueue reports whether the admission limiter currently permits
// enqueuing another job, for callers that want to shed load at the producer
// rather than let it pile up in the queue.
func (c *Controller) AllowEnqueue() bool {
	return c.Admission.Allow()
}
