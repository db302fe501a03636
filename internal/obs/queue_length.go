// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/flyingrobots/dogqueue/internal/backend/redisqueue"
	"github.com/flyingrobots/dogqueue/internal/config"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater periodically samples pending+scheduled and
// processing depths across every known tenant and updates the QueueLength /
// ProcessingLength gauges.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, b *redisqueue.Backend, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sampleOnce(ctx, cfg, b, log)
			}
		}
	}()
}

func sampleOnce(ctx context.Context, cfg *config.Config, b *redisqueue.Backend, log *zap.Logger) {
	tenants, err := b.Tenants(ctx)
	if err != nil {
		log.Debug("tenant list poll error", Err(err))
		return
	}
	for _, tenant := range tenants {
		if n, err := b.ProcessingDepth(ctx, tenant); err != nil {
			log.Debug("processing depth poll error", String("tenant", tenant), Err(err))
		} else {
			ProcessingLength.WithLabelValues(tenant).Set(float64(n))
		}
		for _, q := range cfg.Worker.Queues {
			n, err := b.QueueDepth(ctx, tenant, q)
			if err != nil {
				log.Debug("queue depth poll error", String("tenant", tenant), String("queue", q), Err(err))
				continue
			}
			QueueLength.WithLabelValues(tenant, q).Set(float64(n))
		}
	}
}
