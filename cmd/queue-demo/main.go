// Copyright 2025 James Ross
// queue-demo wires the hook pipeline and the durable job queue together:
// it registers one service and one job type, enqueues one job, and runs
// a worker pool against a Redis-backed queue until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flyingrobots/dogqueue/internal/adapter"
	"github.com/flyingrobots/dogqueue/internal/adaptive"
	"github.com/flyingrobots/dogqueue/internal/backend/redisqueue"
	"github.com/flyingrobots/dogqueue/internal/config"
	"github.com/flyingrobots/dogqueue/internal/events"
	"github.com/flyingrobots/dogqueue/internal/jobs"
	"github.com/flyingrobots/dogqueue/internal/obs"
	"github.com/flyingrobots/dogqueue/internal/queue"
	"github.com/flyingrobots/dogqueue/internal/reaper"
	"github.com/flyingrobots/dogqueue/internal/redisclient"
	"github.com/flyingrobots/dogqueue/internal/svc"
	"github.com/flyingrobots/dogqueue/internal/tenant"
	"github.com/nats-io/nats.go"
)

var version = "dev"

// greeterParams is the single request shape the demo service accepts.
type greeterParams struct {
	Name string
}

// greeterResult is what the demo service and the demo job both produce.
type greeterResult struct {
	Message string
}

// greeterService implements svc.Service with a single Create method.
type greeterService struct {
	svc.Unimplemented[greeterResult, greeterParams]
}

func (greeterService) Capabilities() svc.Capabilities {
	return svc.FromMethods(svc.Create)
}

func (greeterService) Create(c *svc.Context[greeterResult, greeterParams]) (greeterResult, error) {
	return greeterResult{Message: "hello, " + c.Params.Name}, nil
}

// greetJob asynchronously performs the same greeting work through the job
// queue instead of the synchronous hook pipeline, demonstrating that both
// surfaces can share plain Go types.
type greetJob struct {
	Name string
}

func (greetJob) JobType() string { return "greet" }

func (j greetJob) Execute(ctx context.Context, _ jobs.JobContext, _ struct{}) (greeterResult, error) {
	return greeterResult{Message: "hello (async), " + j.Name}, nil
}

func main() {
	var configPath string
	var tenantID string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	fs.StringVar(&tenantID, "tenant", "demo", "tenant ID to enqueue demo jobs under")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel, &obs.FileSinkConfig{Path: cfg.Observability.LogFilePath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	rdb := redisclient.New(cfg)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	readyCheck := func(c context.Context) error {
		_, err := rdb.Ping(c).Result()
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	backend := redisqueue.New(rdb)
	obs.StartQueueLengthUpdater(ctx, cfg, backend, logger)

	rep := reaper.WithInterval(backend, cfg.Worker.LeaseDuration/2, logger)
	if err := rep.Start(ctx); err != nil {
		logger.Fatal("reaper start failed", obs.Err(err))
	}
	defer rep.Stop()

	observer := obs.NewPrometheusObserver()
	ac := adaptive.New(cfg.Adaptive, func(c context.Context) (int64, error) {
		var total int64
		for _, q := range cfg.Worker.Queues {
			n, err := backend.QueueDepth(c, tenantID, q)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	}, logger)
	if err := ac.Start(ctx); err != nil {
		logger.Fatal("adaptive controller start failed", obs.Err(err))
	}
	defer ac.Stop()

	a := adapter.New(backend, logger).WithObserver(observer).WithConfig(adapter.Config{
		MaxWorkers:        cfg.Worker.MaxWorkers,
		WorkerIdleTimeout: cfg.Worker.WorkerIdleTimeout,
		LeaseDuration:     cfg.Worker.LeaseDuration,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		BaseRetryBackoff:  cfg.Worker.BaseRetryBackoff,
		MaxRetryBackoff:   cfg.Worker.MaxRetryBackoff,
		ExecuteNowTimeout: cfg.Worker.ExecuteNowTimeout,
		JobTimeout:        adapter.DefaultConfig().JobTimeout,
	})
	if err := adapter.RegisterJob[greetJob, struct{}, greeterResult](a, func() greetJob { return greetJob{} }); err != nil {
		logger.Fatal("job registration failed", obs.Err(err))
	}

	registry := svc.NewRegistry()
	svc.Register[greeterResult, greeterParams](registry, "greeters", greeterService{}, nil)

	hub := events.NewHub().WithLogger(logger)
	hub.On(events.Pattern{Service: "greeters", Kind: "*"}, func(_ context.Context, ev events.Event) {
		logger.Info("service event", obs.String("kind", ev.Kind), obs.String("tenant", ev.TenantID))
	})
	if natsURL := os.Getenv("QUEUE_DEMO_NATS_URL"); natsURL != "" {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			logger.Warn("nats relay disabled: connect failed", obs.Err(err))
		} else {
			defer nc.Close()
			events.RelayTo(hub, nc, events.RelaySubject("dogqueue", "greeters", "*"), events.Pattern{Service: "greeters", Kind: "*"}, logger)
		}
	}

	tctx := tenant.Ctx{TenantID: tenantID}
	qctx := queue.NewCtx(tenantID)

	res, err := svc.Dispatch[greeterResult, greeterParams](ctx, tctx, "greeters", greeterService{}, nil, hub, svc.Create, greeterParams{Name: "pipeline"})
	if err != nil {
		logger.Error("hook pipeline dispatch failed", obs.Err(err))
	} else {
		logger.Info("hook pipeline dispatched", obs.String("message", res.Message))
	}

	jobID, err := adapter.Enqueue[greetJob, struct{}, greeterResult](ctx, a, qctx, greetJob{Name: "queue"}, adapter.EnqueueOptions{
		Queue: cfg.Worker.Queues[0],
	})
	if err != nil {
		logger.Fatal("enqueue failed", obs.Err(err))
	}
	logger.Info("enqueued demo job", obs.String("job_id", string(jobID)))

	handle := a.StartWorkers(ctx, qctx, cfg.Worker.Queues, struct{}{})
	<-ctx.Done()
	_ = handle.Shutdown(context.Background())
}
