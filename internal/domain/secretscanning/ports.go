// Package secretscanning provides the domain types and ports for detecting
// secrets leaked through repository pushes, tracking them as risks and
// reconciling them against a repository's suppression file.
package secretscanning

import (
	"context"
	"time"
)

// FileRef addresses a single file at a ref within a repository.
type FileRef struct {
	InstallationID int64
	Owner          string
	Repo           string
	Path           string
	// Ref is a commit sha or branch. Empty means the default branch.
	Ref string
}

// ContentFetcher retrieves file content from the source hosting platform.
// Implementations return ErrFileNotFound when the file does not exist so
// callers can tell it apart from transport failures.
type ContentFetcher interface {
	GetFileContent(ctx context.Context, ref FileRef) ([]byte, error)
}

// FindingScanner runs the secret detection engine over raw file content.
type FindingScanner interface {
	Scan(ctx context.Context, content []byte) ([]Finding, error)
}

// SecretEncryptor seals secret values before they are persisted.
type SecretEncryptor interface {
	Encrypt(plaintext string) (EncryptedSecret, error)
	Decrypt(secret EncryptedSecret) (string, error)
}

// UpsertResult reports how a bulk upsert was applied.
type UpsertResult struct {
	// Written is the number of records sent to storage.
	Written int
	// Skipped is the number of records identical to the stored state.
	Skipped int
}

// RiskLedger is the persistent store of risks keyed by fingerprint.
// Reads return the projected Risk unless the method name says otherwise;
// sensitive fields must be requested explicitly.
type RiskLedger interface {
	// FindByContentHash returns every risk in the repository whose secret
	// hashes to contentHash, oldest first.
	FindByContentHash(ctx context.Context, repositoryID int64, contentHash string) ([]Risk, error)

	// FindByFingerprint returns the projected risk or ErrRiskNotFound.
	FindByFingerprint(ctx context.Context, fingerprint string) (Risk, error)

	// FindSensitiveByFingerprints returns full records for the fingerprints
	// that exist. Missing fingerprints are omitted.
	FindSensitiveByFingerprints(ctx context.Context, fingerprints []string) ([]SensitiveRisk, error)

	// BulkUpsert writes every record that differs from its stored state as a
	// single unordered batch. One failing record does not prevent the others
	// from being written.
	BulkUpsert(ctx context.Context, risks []SensitiveRisk) (UpsertResult, error)

	// UpdateStatus transitions the repository's risks with the given
	// fingerprints to status. When onlyFrom is non-empty, only risks currently
	// in that status are changed. It returns the fingerprints that changed.
	UpdateStatus(
		ctx context.Context,
		repositoryID int64,
		fingerprints []string,
		status RiskStatus,
		onlyFrom RiskStatus,
	) ([]string, error)

	// DeleteByInstallation removes every risk recorded for an installation.
	DeleteByInstallation(ctx context.Context, installationID int64) (int64, error)

	// DeleteByRepository removes every risk recorded for a repository.
	DeleteByRepository(ctx context.Context, repositoryID int64) (int64, error)
}

// User is a member of an organization as seen by the directory.
type User struct {
	ID    string
	Email string
}

// OrgDirectory resolves notification recipients.
type OrgDirectory interface {
	ListAdminsAndOwners(ctx context.Context, organizationID string) ([]User, error)
	GetEmails(ctx context.Context, userIDs []string) ([]string, error)
}

// Mail is a rendered-later notification request.
type Mail struct {
	Template      string
	Recipients    []string
	Subject       string
	Substitutions map[string]any
}

// Mailer delivers notification emails.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// TelemetryEvent is a single usage analytics event.
type TelemetryEvent struct {
	Event      string
	DistinctID string
	Properties map[string]any
	Timestamp  time.Time
}

// TelemetrySink records usage analytics.
type TelemetrySink interface {
	Capture(ctx context.Context, event TelemetryEvent) error
}
