// Copyright 2025 James Ross
// Package adaptive scales the worker pool's effective concurrency to system
// load and queue depth, detects backpressure from response-time and
// error-rate trends, and tracks per-job-type performance so operators get
// concrete scaling recommendations instead of a single static worker count.
package adaptive

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyController holds a resizable weighted semaphore: Acquire/Release
// gate actual concurrent job execution, while Resize changes the effective
// limit without tearing down in-flight work.
type ConcurrencyController struct {
	mu       sync.Mutex
	sem      *semaphore.Weighted
	current  int64
	min      int64
	max      int64
	acquired int64
}

// NewConcurrencyController starts at initial permits, bounded to [min, max].
func NewConcurrencyController(initial, min, max int64) *ConcurrencyController {
	if initial < min {
		initial = min
	}
	if initial > max {
		initial = max
	}
	// Size the semaphore for max and hold back the permits above initial, so
	// Resize can release them later without exceeding the semaphore's size.
	sem := semaphore.NewWeighted(max)
	sem.TryAcquire(max - initial)
	return &ConcurrencyController{
		sem:     sem,
		current: initial,
		min:     min,
		max:     max,
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (c *ConcurrencyController) Acquire(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	atomic.AddInt64(&c.acquired, 1)
	return nil
}

// Release returns a permit.
func (c *ConcurrencyController) Release() {
	c.sem.Release(1)
	atomic.AddInt64(&c.acquired, -1)
}

// Current returns the concurrency limit currently in effect.
func (c *ConcurrencyController) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// InUse returns the number of permits currently held.
func (c *ConcurrencyController) InUse() int64 {
	return atomic.LoadInt64(&c.acquired)
}

// Resize changes the concurrency limit, clamped to [min, max]. A resizable
// semaphore has no native shrink/grow primitive, so growing releases the
// delta as new permits and shrinking acquires the delta back (best-effort;
// it will block in-line until enough permits free up, so callers should
// invoke Resize from a background sampler, not a request path).
func (c *ConcurrencyController) Resize(ctx context.Context, target int64) error {
	if target < c.min {
		target = c.min
	}
	if target > c.max {
		target = c.max
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delta := target - c.current
	switch {
	case delta > 0:
		c.sem.Release(delta)
	case delta < 0:
		if err := c.sem.Acquire(ctx, -delta); err != nil {
			return err
		}
	}
	c.current = target
	return nil
}

// CalculateOptimal recommends a new concurrency level from the current
// system load (0..1) and queue depth, dampened by averaging the load-driven
// and depth-driven adjustments. Grounded on the Rust source's
// calculate_optimal_concurrency: scale down proportionally to how far load
// exceeds target, scale up proportionally to spare capacity, and give queue
// backlog its own vote when it's more than double current concurrency.
func (c *ConcurrencyController) CalculateOptimal(systemLoad float64, queueDepth int64, targetLoad float64) int64 {
	current := c.Current()

	var loadAdjustment float64
	if systemLoad > targetLoad {
		loadAdjustment = -(systemLoad - targetLoad) * float64(current)
	} else {
		capacity := targetLoad - systemLoad
		loadAdjustment = capacity * float64(current) * 0.5
	}

	var queueAdjustment float64
	if queueDepth > current*2 && current > 0 {
		queueAdjustment = float64(queueDepth / current)
		if half := float64(current) / 2; queueAdjustment > half {
			queueAdjustment = half
		}
	}

	total := int64((loadAdjustment + queueAdjustment) / 2)
	next := current + total
	if next < c.min {
		next = c.min
	}
	if next > c.max {
		next = c.max
	}
	return next
}
