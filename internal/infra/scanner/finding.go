package scanner

import (
	"github.com/zricethezav/gitleaks/v8/report"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

// toDomainFindings converts gitleaks report entries. Commit and file
// attribution are bound later by the processor since the engine only sees raw
// content.
func toDomainFindings(in []report.Finding) []domain.Finding {
	if len(in) == 0 {
		return nil
	}

	out := make([]domain.Finding, 0, len(in))
	for _, f := range in {
		out = append(out, domain.Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Match:       f.Match,
			Secret:      f.Secret,
			File:        f.File,
			StartLine:   f.StartLine,
			EndLine:     f.EndLine,
			StartColumn: f.StartColumn,
			EndColumn:   f.EndColumn,
			Entropy:     float64(f.Entropy),
			Tags:        f.Tags,
		})
	}
	return out
}
