// Copyright 2025 James Ross
// Package reaper periodically reclaims jobs whose processing lease expired
// without an ack, generalized over any backend.Reapable implementation
// rather than one specific storage engine.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultInterval = 30 * time.Second

// Reaper ticks on a cron schedule, reclaiming expired leases from target.
type Reaper struct {
	target   backend.Reapable
	interval time.Duration
	log      *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// New returns a Reaper with the default 30s interval.
func New(target backend.Reapable, log *zap.Logger) *Reaper {
	return WithInterval(target, defaultInterval, log)
}

// WithInterval returns a Reaper ticking every interval.
func WithInterval(target backend.Reapable, interval time.Duration, log *zap.Logger) *Reaper {
	return &Reaper{target: target, interval: interval, log: log}
}

// Start schedules the reaper's tick on its own cron instance and returns
// immediately; call Stop to halt it.
func (r *Reaper) Start(ctx context.Context) error {
	r.cron = cron.New()
	spec := fmt.Sprintf("@every %s", r.interval)
	id, err := r.cron.AddFunc(spec, func() { r.tick(ctx) })
	if err != nil {
		return fmt.Errorf("reaper: schedule tick: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	return nil
}

// Stop halts the cron schedule. Safe to call even if Start was never called.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

func (r *Reaper) tick(ctx context.Context) {
	reclaimed, err := r.target.ReapExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		r.log.Warn("reaper: tick failed", zap.Error(err))
		return
	}
	if reclaimed > 0 {
		r.log.Info("reaper: reclaimed expired leases", zap.Int("count", reclaimed))
	} else {
		r.log.Debug("reaper: no expired leases")
	}
}

// Tick runs one reaping cycle synchronously, for tests that don't want to
// wait on the cron schedule.
func (r *Reaper) Tick(ctx context.Context) (int, error) {
	return r.target.ReapExpiredLeases(ctx, time.Now().UTC())
}
