package secretscanning

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// ReconcileResult lists the risks transitioned to RESOLVED_FALSE_POSITIVE.
type ReconcileResult struct {
	Fingerprints []string
}

// Count returns the number of risks reconciled.
func (r ReconcileResult) Count() int { return len(r.Fingerprints) }

// IgnoreFileReconciler resolves risks listed in a repository's suppression
// file. Reconciliation is best-effort: every failure yields zero
// reconciliations and is only logged.
type IgnoreFileReconciler struct {
	fetcher  domain.ContentFetcher
	ledger   domain.RiskLedger
	fileName string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewIgnoreFileReconciler creates a reconciler reading fileName from the
// repository root. An empty fileName selects domain.DefaultSuppressionFile.
func NewIgnoreFileReconciler(
	fetcher domain.ContentFetcher,
	ledger domain.RiskLedger,
	fileName string,
	logger *logger.Logger,
	tracer trace.Tracer,
) *IgnoreFileReconciler {
	if fileName == "" {
		fileName = domain.DefaultSuppressionFile
	}
	return &IgnoreFileReconciler{
		fetcher:  fetcher,
		ledger:   ledger,
		fileName: fileName,
		logger:   logger.With("component", "ignore_file_reconciler"),
		tracer:   tracer,
	}
}

// ReconcilePush resolves suppressed risks limited to the unresolved
// fingerprints surfaced by a single push.
func (r *IgnoreFileReconciler) ReconcilePush(
	ctx context.Context,
	ev domain.PushEvent,
	unresolved []string,
) ReconcileResult {
	if len(unresolved) == 0 {
		return ReconcileResult{}
	}

	allowed := make(map[string]struct{}, len(unresolved))
	for _, fp := range unresolved {
		allowed[fp] = struct{}{}
	}
	return r.reconcile(ctx, ev.InstallationID, ev.Repository, allowed)
}

// ReconcileRepository resolves every risk in the repository whose fingerprint
// is listed in the suppression file.
func (r *IgnoreFileReconciler) ReconcileRepository(
	ctx context.Context,
	installationID int64,
	repo domain.Repository,
) ReconcileResult {
	return r.reconcile(ctx, installationID, repo, nil)
}

func (r *IgnoreFileReconciler) reconcile(
	ctx context.Context,
	installationID int64,
	repo domain.Repository,
	allowed map[string]struct{},
) ReconcileResult {
	ctx, span := r.tracer.Start(ctx, "ignore_file_reconciler.reconcile",
		trace.WithAttributes(
			attribute.String("repository", repo.FullName),
			attribute.Bool("push_scoped", allowed != nil),
		))
	defer span.End()

	logr := r.logger.With("repository", repo.FullName, "file", r.fileName)

	content, err := r.fetcher.GetFileContent(ctx, domain.FileRef{
		InstallationID: installationID,
		Owner:          repo.Owner(),
		Repo:           repo.Name(),
		Path:           r.fileName,
	})
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			span.AddEvent("suppression_file_absent")
			return ReconcileResult{}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch suppression file")
		logr.Warn(ctx, "Failed to fetch suppression file, skipping reconciliation", "error", err)
		return ReconcileResult{}
	}

	entries := domain.ParseSuppressionFile(content)
	if allowed != nil {
		scoped := entries[:0]
		for _, fp := range entries {
			if _, ok := allowed[fp]; ok {
				scoped = append(scoped, fp)
			}
		}
		entries = scoped
	}
	if len(entries) == 0 {
		return ReconcileResult{}
	}

	// Push-scoped runs only ever act on risks still awaiting triage.
	var onlyFrom domain.RiskStatus
	if allowed != nil {
		onlyFrom = domain.RiskStatusUnresolved
	}

	resolved, err := r.ledger.UpdateStatus(ctx, repo.ID, entries, domain.RiskStatusFalsePositive, onlyFrom)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve suppressed risks")
		logr.Warn(ctx, "Failed to resolve suppressed risks", "error", err, "entries", len(entries))
		return ReconcileResult{}
	}

	span.SetAttributes(attribute.Int("reconciled", len(resolved)))
	if len(resolved) > 0 {
		logr.Info(ctx, "Resolved suppressed risks", "count", len(resolved))
	}
	return ReconcileResult{Fingerprints: resolved}
}
