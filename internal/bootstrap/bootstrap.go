// Package bootstrap builds the runtime dependencies shared by the worker and
// webhook processes from a loaded configuration.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/internal/api"
	appjobs "github.com/ahrav/pushwatch/internal/app/jobs"
	"github.com/ahrav/pushwatch/internal/app/secretscanning"
	"github.com/ahrav/pushwatch/internal/config"
	"github.com/ahrav/pushwatch/internal/domain/jobs"
	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	pgdirectory "github.com/ahrav/pushwatch/internal/infra/directory/postgres"
	"github.com/ahrav/pushwatch/internal/infra/directory/static"
	"github.com/ahrav/pushwatch/internal/infra/queue/kafka"
	memqueue "github.com/ahrav/pushwatch/internal/infra/queue/memory"
	"github.com/ahrav/pushwatch/internal/infra/storage"
	memjobs "github.com/ahrav/pushwatch/internal/infra/storage/jobs/memory"
	pgjobs "github.com/ahrav/pushwatch/internal/infra/storage/jobs/postgres"
	memrisk "github.com/ahrav/pushwatch/internal/infra/storage/risk/memory"
	pgrisk "github.com/ahrav/pushwatch/internal/infra/storage/risk/postgres"
	"github.com/ahrav/pushwatch/pkg/common/logger"
	"github.com/ahrav/pushwatch/pkg/common/otel"
)

// NewLogger creates the process logger. Error records are mirrored to stderr
// as JSON events carrying the trace ID.
func NewLogger(app, hostname, level string) *logger.Logger {
	events := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	svcName := fmt.Sprintf("%s-%s", app, hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       app,
	}

	return logger.NewWithMetadata(
		os.Stdout,
		logger.ParseLevel(level),
		svcName,
		otel.GetTraceID,
		events,
		metadata,
	)
}

// InitTelemetry installs the tracer and meter providers for app.
func InitTelemetry(log *logger.Logger, cfg config.OtelConfig, app, hostname string) (trace.TracerProvider, func(context.Context), error) {
	return otel.InitTelemetry(log, otel.Config{
		ServiceName:      app,
		ExporterEndpoint: cfg.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Insecure,
	})
}

// OpenPool connects to Postgres and applies pending migrations.
func OpenPool(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := storage.Migrate(db, cfg.MigrationsDir); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info(ctx, "Migrations applied successfully", "dir", cfg.MigrationsDir)
	return pool, nil
}

// Stores groups the persistence ports selected by configuration.
type Stores struct {
	// Pool is nil for the memory backend.
	Pool       *pgxpool.Pool
	Ledger     domain.RiskLedger
	FailedJobs jobs.FailedJobStore
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores opens the risk ledger and failed-job store.
func OpenStores(ctx context.Context, cfg *config.Config, log *logger.Logger, tracer trace.Tracer) (*Stores, error) {
	switch cfg.Database.Backend {
	case "memory":
		log.Warn(ctx, "Using in-memory storage; risks are lost on restart")
		return &Stores{
			Ledger:     memrisk.NewLedger(),
			FailedJobs: memjobs.NewFailedJobStore(cfg.Queue.FailedRetention),
		}, nil
	default:
		pool, err := OpenPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Pool:       pool,
			Ledger:     pgrisk.NewLedgerStore(pool, tracer),
			FailedJobs: pgjobs.NewFailedJobStore(pool, cfg.Queue.FailedRetention, tracer),
		}, nil
	}
}

// OpenDirectory selects the organization directory.
func OpenDirectory(cfg config.DirectoryConfig, stores *Stores, tracer trace.Tracer) (domain.OrgDirectory, error) {
	switch cfg.Mode {
	case "static":
		dir, err := static.Load(cfg.File)
		if err != nil {
			return nil, err
		}
		return dir, nil
	default:
		if stores.Pool == nil {
			return nil, fmt.Errorf("directory mode %q requires the postgres database backend", cfg.Mode)
		}
		return pgdirectory.NewDirectory(stores.Pool, tracer), nil
	}
}

// OpenQueue connects the job queue. The memory queue only delivers within the
// current process.
func OpenQueue(cfg config.QueueConfig, clientID string, log *logger.Logger, metrics appjobs.WorkerMetrics, tracer trace.Tracer) (jobs.Queue, error) {
	switch cfg.Backend {
	case "memory":
		return memqueue.NewQueue(cfg.MemorySize), nil
	default:
		if cfg.ClientID != "" {
			clientID = cfg.ClientID
		}
		q, err := kafka.ConnectWithRetry(&kafka.Config{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			ClientID: clientID,
		}, log, metrics, tracer)
		if err != nil {
			return nil, err
		}
		return q, nil
	}
}

// RetryPolicy derives the worker retry policy from configuration.
func RetryPolicy(cfg config.QueueConfig) jobs.RetryPolicy {
	return jobs.RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		Multiplier:     2,
	}
}

// NewWebhookServer wires the ingestion API onto queue and stores.
func NewWebhookServer(
	cfg *config.Config,
	queue jobs.Queue,
	stores *Stores,
	log *logger.Logger,
	workerMetrics appjobs.WorkerMetrics,
	tp trace.TracerProvider,
) (*api.Server, error) {
	apiMetrics, err := api.NewAPIMetrics(gootel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("creating api metrics: %w", err)
	}

	tracer := tp.Tracer("pushwatch-webhook")
	serverCfg := api.Config{
		Addr:           cfg.Webhook.Addr,
		WebhookSecret:  cfg.Webhook.Secret,
		Enqueuer:       appjobs.NewEnqueuer(queue, log, workerMetrics, tracer),
		Cleaner:        secretscanning.NewRiskCleanupService(stores.Ledger, log, tracer),
		FailedJobs:     stores.FailedJobs,
		Logger:         log,
		Metrics:        apiMetrics,
		TracerProvider: tp,
	}
	if stores.Pool != nil {
		serverCfg.Readiness = stores.Pool
	}

	return api.NewServer(serverCfg)
}
