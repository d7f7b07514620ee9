package secretscanning

import (
	"fmt"
	"time"
)

// RiskStatus is the triage state of a Risk.
type RiskStatus string

const (
	// RiskStatusUnresolved is the state of every risk when first recorded.
	RiskStatusUnresolved RiskStatus = "UNRESOLVED"
	// RiskStatusFalsePositive marks a risk suppressed by the user, usually via
	// the repository's ignore file.
	RiskStatusFalsePositive RiskStatus = "RESOLVED_FALSE_POSITIVE"
	// RiskStatusRevoked marks a risk whose credential has been revoked.
	RiskStatusRevoked RiskStatus = "RESOLVED_REVOKED"
	// RiskStatusNotRevoked marks a risk accepted without revocation.
	RiskStatusNotRevoked RiskStatus = "RESOLVED_NOT_REVOKED"
)

func (s RiskStatus) String() string { return string(s) }

// IsResolved reports whether the risk has been adjudicated in any way.
func (s RiskStatus) IsResolved() bool { return s != RiskStatusUnresolved }

// ParseRiskStatus converts a stored value into a RiskStatus.
func ParseRiskStatus(s string) (RiskStatus, error) {
	switch RiskStatus(s) {
	case RiskStatusUnresolved, RiskStatusFalsePositive, RiskStatusRevoked, RiskStatusNotRevoked:
		return RiskStatus(s), nil
	default:
		return "", fmt.Errorf("unknown risk status %q", s)
	}
}

// Risk is the durable, projected view of a detected secret. It never carries
// the secret value or its hash; see SensitiveRisk.
type Risk struct {
	Fingerprint              string
	FingerprintWithoutCommit string

	RepositoryID       int64
	RepositoryFullName string
	RepositoryLink     string
	InstallationID     int64
	OrganizationID     string

	Status      RiskStatus
	RuleID      string
	Description string
	File        string
	StartLine   int
	EndLine     int
	StartColumn int
	EndColumn   int
	Entropy     float64
	Tags        []string

	CommitID      string
	CommitMessage string
	AuthorName    string
	AuthorEmail   string
	PusherName    string
	PusherEmail   string

	// RiskOwner is set by manual assignment only.
	RiskOwner *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EncryptedSecret holds the encryption-at-rest envelope for a secret value.
type EncryptedSecret struct {
	Ciphertext  string
	IV          string
	Tag         string
	Algorithm   string
	KeyEncoding string
}

// SensitiveRisk is the full risk record including the hidden fields. Ledger
// reads only return it when the caller explicitly asks for sensitive fields.
type SensitiveRisk struct {
	Risk
	ContentHash string
	Secret      EncryptedSecret
}

// NewRisk builds the record for a NEW finding. The secret must already be
// sealed by a SecretEncryptor.
func NewRisk(f Finding, id Identity, ev PushEvent, secret EncryptedSecret) SensitiveRisk {
	return SensitiveRisk{
		Risk: Risk{
			Fingerprint:              id.Fingerprint,
			FingerprintWithoutCommit: id.FingerprintWithoutCommit,
			RepositoryID:             ev.Repository.ID,
			RepositoryFullName:       ev.Repository.FullName,
			RepositoryLink:           ev.Repository.Link(),
			InstallationID:           ev.InstallationID,
			OrganizationID:           ev.OrganizationID,
			Status:                   RiskStatusUnresolved,
			RuleID:                   f.RuleID,
			Description:              f.Description,
			File:                     f.File,
			StartLine:                f.StartLine,
			EndLine:                  f.EndLine,
			StartColumn:              f.StartColumn,
			EndColumn:                f.EndColumn,
			Entropy:                  f.Entropy,
			Tags:                     f.Tags,
			CommitID:                 f.CommitID,
			CommitMessage:            f.CommitMessage,
			AuthorName:               f.AuthorName,
			AuthorEmail:              f.AuthorEmail,
			PusherName:               ev.Pusher.Name,
			PusherEmail:              ev.Pusher.Email,
		},
		ContentHash: id.ContentHash,
		Secret:      secret,
	}
}
