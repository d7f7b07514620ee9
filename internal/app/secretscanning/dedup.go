package secretscanning

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

// DedupResolver classifies findings against the risks already recorded for a
// repository. The same literal secret anywhere in the repository collapses
// into a single triage unit.
type DedupResolver struct {
	ledger domain.RiskLedger
	tracer trace.Tracer
}

// NewDedupResolver creates a resolver backed by ledger.
func NewDedupResolver(ledger domain.RiskLedger, tracer trace.Tracer) *DedupResolver {
	return &DedupResolver{ledger: ledger, tracer: tracer}
}

// Resolve queries the ledger freshly for risks sharing contentHash within the
// repository and classifies the occurrence.
func (r *DedupResolver) Resolve(ctx context.Context, repositoryID int64, contentHash string) (domain.DedupResult, error) {
	ctx, span := r.tracer.Start(ctx, "dedup_resolver.resolve",
		trace.WithAttributes(attribute.Int64("repository_id", repositoryID)))
	defer span.End()

	existing, err := r.ledger.FindByContentHash(ctx, repositoryID, contentHash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query risks by content hash")
		return domain.DedupResult{}, fmt.Errorf("find risks by content hash: %w", err)
	}

	res := domain.Classify(existing)
	span.SetAttributes(
		attribute.String("classification", res.Classification.String()),
		attribute.Int("existing_count", len(existing)),
	)
	return res, nil
}
