package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// Enqueuer submits secret scanning work to the job queue.
type Enqueuer struct {
	queue   domain.Queue
	logger  *logger.Logger
	metrics WorkerMetrics
	tracer  trace.Tracer
}

// NewEnqueuer creates an enqueuer publishing to queue.
func NewEnqueuer(queue domain.Queue, logger *logger.Logger, metrics WorkerMetrics, tracer trace.Tracer) *Enqueuer {
	return &Enqueuer{
		queue:   queue,
		logger:  logger.With("component", "job_enqueuer"),
		metrics: metrics,
		tracer:  tracer,
	}
}

// EnqueuePushEvent validates ev, assigns a salt when absent and publishes it
// as a push-event job.
func (e *Enqueuer) EnqueuePushEvent(ctx context.Context, ev secretscanning.PushEvent) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "job_enqueuer.enqueue_push_event",
		trace.WithAttributes(
			attribute.String("repository", ev.Repository.FullName),
			attribute.Int("commits", len(ev.Commits)),
		))
	defer span.End()

	if ev.Salt == "" {
		salt, err := newSalt()
		if err != nil {
			return uuid.Nil, err
		}
		ev.Salt = salt
	}

	if err := ev.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid push event")
		return uuid.Nil, err
	}

	job, err := domain.NewJob(domain.TypeSecretScanningPush, ev)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.queue.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue job")
		return uuid.Nil, fmt.Errorf("enqueue push event for %s: %w", ev.Repository.FullName, err)
	}
	e.metrics.IncJobsEnqueued(ctx, string(job.Type))

	e.logger.Info(ctx, "Push event enqueued",
		"job_id", job.ID.String(),
		"repository", ev.Repository.FullName,
		"commits", len(ev.Commits),
	)
	return job.ID, nil
}

// EnqueueRepositoryReconcile schedules a full suppression-file sweep of repo.
func (e *Enqueuer) EnqueueRepositoryReconcile(
	ctx context.Context,
	installationID int64,
	repo secretscanning.Repository,
) (uuid.UUID, error) {
	ctx, span := e.tracer.Start(ctx, "job_enqueuer.enqueue_repository_reconcile",
		trace.WithAttributes(attribute.String("repository", repo.FullName)))
	defer span.End()

	req := secretscanning.ReconcileRequest{InstallationID: installationID, Repository: repo}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid reconcile request")
		return uuid.Nil, err
	}

	job, err := domain.NewJob(domain.TypeSecretScanningReconcile, req)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.queue.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue job")
		return uuid.Nil, fmt.Errorf("enqueue reconcile for %s: %w", repo.FullName, err)
	}
	e.metrics.IncJobsEnqueued(ctx, string(job.Type))

	e.logger.Info(ctx, "Repository reconcile enqueued", "job_id", job.ID.String(), "repository", repo.FullName)
	return job.ID, nil
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
