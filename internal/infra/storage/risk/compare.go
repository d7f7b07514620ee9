// Package risk holds the pieces shared by the risk ledger implementations.
package risk

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/hashicorp/go-multierror"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

// unchangedOpts ignores the fields an upsert never overwrites (status,
// owner and creation time), the bookkeeping update time and the encryption
// envelope, whose IV differs on every seal. The content hash still covers the
// secret value itself.
var unchangedOpts = cmp.Options{
	cmpopts.IgnoreFields(domain.Risk{}, "Status", "RiskOwner", "CreatedAt", "UpdatedAt"),
	cmpopts.IgnoreFields(domain.SensitiveRisk{}, "Secret"),
	cmpopts.EquateEmpty(),
}

// Unchanged reports whether writing incoming over stored would leave the
// record as it is.
func Unchanged(stored, incoming domain.SensitiveRisk) bool {
	return cmp.Equal(stored, incoming, unchangedOpts)
}

// MergeByFingerprint collapses a batch so every fingerprint appears once,
// keeping the last record for each. Order of first appearance is preserved.
func MergeByFingerprint(risks []domain.SensitiveRisk) []domain.SensitiveRisk {
	idx := make(map[string]int, len(risks))
	out := make([]domain.SensitiveRisk, 0, len(risks))
	for _, r := range risks {
		if i, ok := idx[r.Fingerprint]; ok {
			out[i] = r
			continue
		}
		idx[r.Fingerprint] = len(out)
		out = append(out, r)
	}
	return out
}

// JoinWriteErrors aggregates per-record write failures of a bulk upsert.
func JoinWriteErrors(errs []error) error {
	var result *multierror.Error
	for _, err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
