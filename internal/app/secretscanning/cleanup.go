package secretscanning

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// RiskCleanupService performs the cascading deletion of risks when an
// installation or repository is removed. It is the only deletion path.
type RiskCleanupService struct {
	ledger domain.RiskLedger
	logger *logger.Logger
	tracer trace.Tracer
}

// NewRiskCleanupService creates a cleanup service over ledger.
func NewRiskCleanupService(ledger domain.RiskLedger, logger *logger.Logger, tracer trace.Tracer) *RiskCleanupService {
	return &RiskCleanupService{
		ledger: ledger,
		logger: logger.With("component", "risk_cleanup"),
		tracer: tracer,
	}
}

// DeleteRisksForInstallation removes every risk recorded under installationID.
func (s *RiskCleanupService) DeleteRisksForInstallation(ctx context.Context, installationID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "risk_cleanup.delete_for_installation",
		trace.WithAttributes(attribute.Int64("installation_id", installationID)))
	defer span.End()

	n, err := s.ledger.DeleteByInstallation(ctx, installationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete risks for installation")
		return 0, fmt.Errorf("delete risks for installation %d: %w", installationID, err)
	}

	s.logger.Info(ctx, "Deleted risks for installation", "installation_id", installationID, "deleted", n)
	return n, nil
}

// DeleteRisksForRepository removes every risk recorded for repositoryID.
func (s *RiskCleanupService) DeleteRisksForRepository(ctx context.Context, repositoryID int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "risk_cleanup.delete_for_repository",
		trace.WithAttributes(attribute.Int64("repository_id", repositoryID)))
	defer span.End()

	n, err := s.ledger.DeleteByRepository(ctx, repositoryID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete risks for repository")
		return 0, fmt.Errorf("delete risks for repository %d: %w", repositoryID, err)
	}

	s.logger.Info(ctx, "Deleted risks for repository", "repository_id", repositoryID, "deleted", n)
	return n, nil
}
