package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	gootel "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	appjobs "github.com/ahrav/pushwatch/internal/app/jobs"
	"github.com/ahrav/pushwatch/internal/bootstrap"
	"github.com/ahrav/pushwatch/internal/config"
	"github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/pkg/common"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const serviceType = "worker"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.NewViperLoader("").Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr := bootstrap.NewLogger(serviceType, hostname, cfg.Log.Level)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logr.Info(ctx, "Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, logr, hostname); err != nil {
		logr.Error(ctx, "worker exited with error", "error", err)
		os.Exit(1)
	}
	logr.Info(ctx, "Worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, hostname string) error {
	tp, telemetryTeardown, err := bootstrap.InitTelemetry(log, cfg.Otel, "pushwatch-"+serviceType, hostname)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer telemetryTeardown(context.Background())

	tracer := tp.Tracer("pushwatch-" + serviceType)

	stores, err := bootstrap.OpenStores(ctx, cfg, log, tracer)
	if err != nil {
		return fmt.Errorf("opening stores: %w", err)
	}
	defer stores.Close()

	workerMetrics, err := appjobs.NewWorkerMetrics(gootel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating worker metrics: %w", err)
	}

	queue, err := bootstrap.OpenQueue(cfg.Queue, fmt.Sprintf("%s-%s", serviceType, hostname), log, workerMetrics, tracer)
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error(context.Background(), "Error closing job queue", "error", err)
		}
	}()

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, stores, log, tracer)
	if err != nil {
		return fmt.Errorf("building scan pipeline: %w", err)
	}

	worker := appjobs.NewWorker(queue, stores.FailedJobs, bootstrap.RetryPolicy(cfg.Queue), log, workerMetrics, tracer)
	worker.Register(jobs.TypeSecretScanningPush, pipeline.Push.Handle)
	worker.Register(jobs.TypeSecretScanningReconcile, pipeline.Reconcile.Handle)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return common.RunMetricsServer(gctx, cfg.Metrics.Addr, log) })
	}

	// The memory queue only delivers within this process, so ingestion has to
	// run alongside the worker.
	if cfg.Queue.Backend == "memory" {
		srv, err := bootstrap.NewWebhookServer(cfg, queue, stores, log, workerMetrics, tp)
		if err != nil {
			return fmt.Errorf("creating webhook server: %w", err)
		}
		log.Warn(ctx, "Memory queue selected; serving webhooks from the worker process")
		g.Go(func() error { return srv.Start(gctx) })
	}

	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}
