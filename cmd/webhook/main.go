package main

import (
	"context"
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
	"github.com/ahrav/pushwatch/pkg/common"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const serviceType = "webhook"

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
	if cfg.Queue.Backend == "memory" {
		log.Fatalf("the webhook process needs a shared queue; run the worker for the memory backend")
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
		logr.Error(ctx, "webhook server exited with error", "error", err)
		os.Exit(1)
	}
	logr.Info(ctx, "Webhook server stopped")
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

	queueMetrics, err := appjobs.NewWorkerMetrics(gootel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("creating queue metrics: %w", err)
	}

	queue, err := bootstrap.OpenQueue(cfg.Queue, fmt.Sprintf("%s-%s", serviceType, hostname), log, queueMetrics, tracer)
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error(context.Background(), "Error closing job queue", "error", err)
		}
	}()

	srv, err := bootstrap.NewWebhookServer(cfg, queue, stores, log, queueMetrics, tp)
	if err != nil {
		return fmt.Errorf("creating webhook server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return common.RunMetricsServer(gctx, cfg.Metrics.Addr, log) })
	}
	g.Go(func() error { return srv.Start(gctx) })

	return g.Wait()
}
