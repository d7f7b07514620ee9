package secretscanning

import (
	"context"
	"errors"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// PushEventHandler adapts the processor and dispatcher to the job queue.
type PushEventHandler struct {
	processor  *PushEventProcessor
	dispatcher *NotificationDispatcher
	logger     *logger.Logger
}

// NewPushEventHandler creates the queue handler for push-event jobs.
func NewPushEventHandler(
	processor *PushEventProcessor,
	dispatcher *NotificationDispatcher,
	logger *logger.Logger,
) *PushEventHandler {
	return &PushEventHandler{
		processor:  processor,
		dispatcher: dispatcher,
		logger:     logger.With("component", "push_event_handler"),
	}
}

// Handle decodes and processes a push-event job. Processing failures are
// returned so the job is retried; undecodable or invalid events are marked
// non-retryable. Notification failures are only logged: the
// risks are already persisted and a retry would report them as unresolved
// rather than new.
func (h *PushEventHandler) Handle(ctx context.Context, job jobs.Job) error {
	var ev domain.PushEvent
	if err := job.Decode(&ev); err != nil {
		return jobs.NonRetryable(err)
	}

	summary, err := h.processor.Process(ctx, ev)
	if errors.Is(err, domain.ErrInvalidPushEvent) {
		return jobs.NonRetryable(err)
	}
	if err != nil {
		return err
	}

	if err := h.dispatcher.Dispatch(ctx, ev, summary); err != nil {
		h.logger.Error(ctx, "Failed to dispatch push notifications",
			"job_id", job.ID.String(),
			"repository", ev.Repository.FullName,
			"error", err,
		)
	}
	return nil
}

// RepositoryReconcileHandler runs full suppression-file sweeps queued when a
// repository is added to an installation.
type RepositoryReconcileHandler struct {
	reconciler *IgnoreFileReconciler
	logger     *logger.Logger
}

func NewRepositoryReconcileHandler(reconciler *IgnoreFileReconciler, logger *logger.Logger) *RepositoryReconcileHandler {
	return &RepositoryReconcileHandler{
		reconciler: reconciler,
		logger:     logger.With("component", "repository_reconcile_handler"),
	}
}

// Handle decodes the request and sweeps the repository. Sweep failures are
// absorbed by the reconciler, so only malformed jobs fail.
func (h *RepositoryReconcileHandler) Handle(ctx context.Context, job jobs.Job) error {
	var req domain.ReconcileRequest
	if err := job.Decode(&req); err != nil {
		return jobs.NonRetryable(err)
	}
	if err := req.Validate(); err != nil {
		return jobs.NonRetryable(err)
	}

	res := h.reconciler.ReconcileRepository(ctx, req.InstallationID, req.Repository)
	h.logger.Info(ctx, "Repository reconciled",
		"job_id", job.ID.String(),
		"repository", req.Repository.FullName,
		"reconciled", res.Count(),
	)
	return nil
}
