// Package jobs provides the worker that drains the durable job queue and the
// enqueuer used by ingestion to submit work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// Worker runs queued jobs with bounded retry. Successful jobs are discarded,
// failed attempts are rescheduled with exponential backoff and jobs failing
// their final attempt are moved to the failed-job store.
type Worker struct {
	queue  domain.Queue
	failed domain.FailedJobStore
	policy domain.RetryPolicy

	mu       sync.RWMutex
	handlers map[domain.Type]domain.HandlerFunc

	logger  *logger.Logger
	metrics WorkerMetrics
	tracer  trace.Tracer
}

// NewWorker creates a worker consuming from queue.
func NewWorker(
	queue domain.Queue,
	failed domain.FailedJobStore,
	policy domain.RetryPolicy,
	logger *logger.Logger,
	metrics WorkerMetrics,
	tracer trace.Tracer,
) *Worker {
	return &Worker{
		queue:    queue,
		failed:   failed,
		policy:   policy,
		handlers: make(map[domain.Type]domain.HandlerFunc),
		logger:   logger.With("component", "job_worker"),
		metrics:  metrics,
		tracer:   tracer,
	}
}

// Register routes jobs of typ to h.
func (w *Worker) Register(typ domain.Type, h domain.HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[typ] = h
}

// Run consumes jobs until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "Job worker started",
		"max_attempts", w.policy.MaxAttempts,
		"initial_backoff", w.policy.InitialBackoff.String(),
	)
	return w.queue.Consume(ctx, w.HandleJob)
}

// HandleJob runs one delivery of job. It returns an error only when the
// outcome could not be recorded, in which case the queue must redeliver.
func (w *Worker) HandleJob(ctx context.Context, job domain.Job) error {
	ctx, span := w.tracer.Start(ctx, "job_worker.handle",
		trace.WithAttributes(
			attribute.String("job_id", job.ID.String()),
			attribute.String("job_type", string(job.Type)),
			attribute.Int("attempt", job.Attempt),
		))
	defer span.End()

	logr := w.logger.With("job_id", job.ID.String(), "job_type", string(job.Type), "attempt", job.Attempt)

	status := domain.StatusEnqueued
	if job.Attempt > 1 {
		status = domain.StatusRetrying
	}
	if err := status.ValidateTransition(domain.StatusProcessing); err != nil {
		return err
	}

	w.mu.RLock()
	h, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	var err error
	if ok {
		err = h(ctx, job)
	} else {
		// Unknown job types can never succeed, skip straight to terminal.
		err = fmt.Errorf("no handler registered for job type %q", job.Type)
		job.Attempt = max(job.Attempt, w.policy.MaxAttempts)
	}

	if err == nil {
		w.metrics.IncJobsCompleted(ctx, string(job.Type))
		logr.Debug(ctx, "Job completed")
		return nil
	}

	span.RecordError(err)
	if errors.Is(err, domain.ErrNonRetryable) {
		job.Attempt = max(job.Attempt, w.policy.MaxAttempts)
	}
	if w.policy.ShouldRetry(job.Attempt) {
		delay := w.policy.Delay(job.Attempt)
		if serr := w.queue.Schedule(ctx, job.Retry(delay), delay); serr != nil {
			span.SetStatus(codes.Error, "failed to schedule retry")
			logr.Error(ctx, "Failed to schedule job retry", "error", serr, "cause", err)
			return fmt.Errorf("schedule retry of job %s: %w", job.ID, serr)
		}
		w.metrics.IncJobsRetried(ctx, string(job.Type))
		logr.Warn(ctx, "Job failed, retry scheduled", "error", err, "delay", delay.String())
		return nil
	}

	span.SetStatus(codes.Error, "job retries exhausted")
	w.metrics.IncJobsFailed(ctx, string(job.Type))
	logr.Error(ctx, "Job failed permanently", "error", fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, err))

	failed := domain.FailedJob{Job: job, Error: err.Error(), FailedAt: time.Now().UTC()}
	if rerr := w.failed.Record(ctx, failed); rerr != nil {
		// The job is dropped either way; redelivering would re-run it.
		logr.Error(ctx, "Failed to record failed job", "error", rerr)
	}
	return nil
}
