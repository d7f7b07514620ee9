package secretscanning

// Classification is the outcome of deduplicating a finding against the ledger.
type Classification string

const (
	// ClassificationNew means the secret has never been seen in the repository.
	ClassificationNew Classification = "NEW"
	// ClassificationDuplicateUnresolved means the secret is already recorded and
	// still awaits triage.
	ClassificationDuplicateUnresolved Classification = "DUPLICATE_UNRESOLVED"
	// ClassificationDuplicateResolved means the secret was already adjudicated
	// somewhere in the repository.
	ClassificationDuplicateResolved Classification = "DUPLICATE_RESOLVED"
)

func (c Classification) String() string { return string(c) }

// DedupResult is the classification of one finding plus, for duplicates, the
// existing risk it collapses into.
type DedupResult struct {
	Classification      Classification
	ExistingFingerprint string
	ExistingStatus      RiskStatus
}

// Classify decides how a finding relates to the existing risks sharing its
// content hash. existing must be ordered oldest first. Any adjudicated record
// makes the occurrence DUPLICATE_RESOLVED; otherwise the oldest unresolved
// record is the one the occurrence collapses into.
func Classify(existing []Risk) DedupResult {
	if len(existing) == 0 {
		return DedupResult{Classification: ClassificationNew}
	}

	for _, r := range existing {
		if r.Status.IsResolved() {
			return DedupResult{
				Classification:      ClassificationDuplicateResolved,
				ExistingFingerprint: r.Fingerprint,
				ExistingStatus:      r.Status,
			}
		}
	}

	return DedupResult{
		Classification:      ClassificationDuplicateUnresolved,
		ExistingFingerprint: existing[0].Fingerprint,
		ExistingStatus:      existing[0].Status,
	}
}

// ScanSummary is the outcome of processing one push event.
type ScanSummary struct {
	NewFindings       int
	StillUnresolved   int
	AlreadyResolved   int
	Reconciled        int
	CommitsScanned    int
	FilesScanned      int
	FileErrors        int
	PersistedFindings []Risk
}

// RisksFound is the number of open risks the push surfaced.
func (s ScanSummary) RisksFound() int { return s.NewFindings + s.StillUnresolved }
