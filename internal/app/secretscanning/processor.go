// Package secretscanning provides the services that scan repository pushes for
// leaked secrets, record them in the risk ledger and notify the organization.
package secretscanning

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// PushEventProcessor runs the full scan pipeline for a single push: fetch and
// scan every changed file, dedup the findings, persist the new risks and
// reconcile the suppression file.
type PushEventProcessor struct {
	fetcher    domain.ContentFetcher
	scanner    domain.FindingScanner
	resolver   *DedupResolver
	ledger     domain.RiskLedger
	reconciler *IgnoreFileReconciler
	encryptor  domain.SecretEncryptor

	fileConcurrency int
	pathFilter      PathFilter

	logger  *logger.Logger
	metrics ProcessingMetrics
	tracer  trace.Tracer
}

// NewPushEventProcessor creates a processor. Files are processed one at a time
// unless WithFileConcurrency is supplied.
func NewPushEventProcessor(
	fetcher domain.ContentFetcher,
	scanner domain.FindingScanner,
	ledger domain.RiskLedger,
	reconciler *IgnoreFileReconciler,
	encryptor domain.SecretEncryptor,
	logger *logger.Logger,
	metrics ProcessingMetrics,
	tracer trace.Tracer,
	opts ...ProcessorOption,
) *PushEventProcessor {
	p := &PushEventProcessor{
		fetcher:         fetcher,
		scanner:         scanner,
		resolver:        NewDedupResolver(ledger, tracer),
		ledger:          ledger,
		reconciler:      reconciler,
		encryptor:       encryptor,
		fileConcurrency: 1,
		logger:          logger.With("component", "push_event_processor"),
		metrics:         metrics,
		tracer:          tracer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// changedFile is one added or modified path of a commit and what scanning it
// produced.
type changedFile struct {
	commit   domain.Commit
	path     string
	findings []domain.Finding
	fetchErr error
}

// Process scans ev and returns the summary of what was found. Per-file fetch
// failures are logged and skipped; scanner and ledger failures abort the push
// so the job can be retried in full.
func (p *PushEventProcessor) Process(ctx context.Context, ev domain.PushEvent) (domain.ScanSummary, error) {
	ctx, span := p.tracer.Start(ctx, "push_event_processor.process",
		trace.WithAttributes(
			attribute.String("repository", ev.Repository.FullName),
			attribute.Int64("repository_id", ev.Repository.ID),
			attribute.Int("commits", len(ev.Commits)),
		))
	defer span.End()

	if err := ev.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid push event")
		return domain.ScanSummary{}, err
	}

	logr := p.logger.With("repository", ev.Repository.FullName, "installation_id", ev.InstallationID)

	files, err := p.scanFiles(ctx, ev, logr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to scan changed files")
		return domain.ScanSummary{}, err
	}

	summary := domain.ScanSummary{CommitsScanned: len(ev.Commits)}

	var (
		staged       = make(map[string]domain.SensitiveRisk)
		stagedOrder  []string
		stagedHashes = make(map[string]struct{})
		// Occurrences per existing unresolved fingerprint, used to net out
		// reconciled risks from the unresolved count.
		unresolvedOcc   = make(map[string]int)
		unresolvedOrder []string
	)

	for _, file := range files {
		if file.fetchErr != nil {
			summary.FileErrors++
			continue
		}
		summary.FilesScanned++

		for _, f := range file.findings {
			id := domain.Identify(f)
			if _, ok := staged[id.Fingerprint]; ok {
				continue
			}

			// Same secret already staged as NEW in this push.
			if _, ok := stagedHashes[id.ContentHash]; ok {
				summary.StillUnresolved++
				p.metrics.AddFindings(ctx, domain.ClassificationDuplicateUnresolved, 1)
				continue
			}

			res, err := p.resolver.Resolve(ctx, ev.Repository.ID, id.ContentHash)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed to dedup finding")
				return domain.ScanSummary{}, err
			}
			p.metrics.AddFindings(ctx, res.Classification, 1)

			switch res.Classification {
			case domain.ClassificationNew:
				secret, err := p.encryptor.Encrypt(f.Secret)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "failed to encrypt secret")
					return domain.ScanSummary{}, fmt.Errorf("encrypt secret for %s: %w", id.Fingerprint, err)
				}
				staged[id.Fingerprint] = domain.NewRisk(f, id, ev, secret)
				stagedOrder = append(stagedOrder, id.Fingerprint)
				stagedHashes[id.ContentHash] = struct{}{}
				summary.NewFindings++

			case domain.ClassificationDuplicateUnresolved:
				if _, seen := unresolvedOcc[res.ExistingFingerprint]; !seen {
					unresolvedOrder = append(unresolvedOrder, res.ExistingFingerprint)
				}
				unresolvedOcc[res.ExistingFingerprint]++
				summary.StillUnresolved++

			case domain.ClassificationDuplicateResolved:
				summary.AlreadyResolved++
			}
		}
	}

	if len(stagedOrder) > 0 {
		batch := make([]domain.SensitiveRisk, 0, len(stagedOrder))
		for _, fp := range stagedOrder {
			batch = append(batch, staged[fp])
			summary.PersistedFindings = append(summary.PersistedFindings, staged[fp].Risk)
		}

		res, err := p.ledger.BulkUpsert(ctx, batch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to persist risks")
			return domain.ScanSummary{}, fmt.Errorf("persist %d risks: %w", len(batch), err)
		}
		p.metrics.AddLedgerWrites(ctx, res.Written, res.Skipped)
	}

	reconciled := p.reconciler.ReconcilePush(ctx, ev, unresolvedOrder)
	for _, fp := range reconciled.Fingerprints {
		summary.StillUnresolved -= unresolvedOcc[fp]
	}
	summary.StillUnresolved = max(summary.StillUnresolved, 0)
	summary.Reconciled = reconciled.Count()
	p.metrics.AddReconciled(ctx, summary.Reconciled)

	span.SetAttributes(
		attribute.Int("new_findings", summary.NewFindings),
		attribute.Int("still_unresolved", summary.StillUnresolved),
		attribute.Int("already_resolved", summary.AlreadyResolved),
		attribute.Int("file_errors", summary.FileErrors),
	)
	if summary.FileErrors > 0 {
		logr.Warn(ctx, "Push processed with partial file errors",
			"file_errors", summary.FileErrors,
			"files_scanned", summary.FilesScanned,
		)
	}
	logr.Info(ctx, "Push processed",
		"new_findings", summary.NewFindings,
		"still_unresolved", summary.StillUnresolved,
		"already_resolved", summary.AlreadyResolved,
		"reconciled", summary.Reconciled,
	)

	return summary, nil
}

// scanFiles fetches and scans every changed file of the push, preserving
// commit and path order in the result.
func (p *PushEventProcessor) scanFiles(
	ctx context.Context,
	ev domain.PushEvent,
	logr *logger.Logger,
) ([]changedFile, error) {
	var files []changedFile
	for _, c := range ev.Commits {
		for _, path := range c.ChangedFiles() {
			if p.pathFilter != nil && p.pathFilter.Skip(path) {
				logr.Debug(ctx, "Skipping excluded path", "path", path, "commit", c.ID)
				continue
			}
			files = append(files, changedFile{commit: c, path: path})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fileConcurrency)
	for i := range files {
		g.Go(func() error {
			return p.scanFile(gctx, ev, &files[i], logr)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return files, nil
}

func (p *PushEventProcessor) scanFile(
	ctx context.Context,
	ev domain.PushEvent,
	file *changedFile,
	logr *logger.Logger,
) error {
	ctx, span := p.tracer.Start(ctx, "push_event_processor.scan_file",
		trace.WithAttributes(
			attribute.String("path", file.path),
			attribute.String("commit", file.commit.ID),
		))
	defer span.End()

	content, err := p.fetcher.GetFileContent(ctx, domain.FileRef{
		InstallationID: ev.InstallationID,
		Owner:          ev.Repository.Owner(),
		Repo:           ev.Repository.Name(),
		Path:           file.path,
		Ref:            file.commit.ID,
	})
	switch {
	case errors.Is(err, domain.ErrFileNotFound):
		content = nil
	case err != nil:
		span.RecordError(err)
		p.metrics.IncFileFetchErrors(ctx)
		logr.Warn(ctx, "Failed to fetch file content, skipping file",
			"owner", ev.Repository.Owner(),
			"repo", ev.Repository.Name(),
			"path", file.path,
			"commit", file.commit.ID,
			"error", err,
		)
		file.fetchErr = err
		return nil
	}
	p.metrics.IncFilesScanned(ctx)

	if len(content) == 0 {
		return nil
	}

	findings, err := p.scanner.Scan(ctx, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		return fmt.Errorf("scan %s at %s: %w", file.path, file.commit.ID, err)
	}

	file.findings = make([]domain.Finding, 0, len(findings))
	for _, f := range findings {
		file.findings = append(file.findings, f.BindCommit(file.commit, file.path))
	}
	span.SetAttributes(attribute.Int("findings", len(findings)))

	return nil
}
