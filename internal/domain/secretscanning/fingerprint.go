package secretscanning

import (
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

const fingerprintSeparator = ":"

// Identity holds the identifiers derived from a finding.
type Identity struct {
	// Fingerprint is unique per (commit, file, rule, line) and is the ledger's
	// primary key.
	Fingerprint string
	// FingerprintWithoutCommit is stable across commits touching the same
	// location.
	FingerprintWithoutCommit string
	// ContentHash identifies the leaked value itself, independent of where it
	// appears.
	ContentHash string
}

// Fingerprint returns the commit-scoped fingerprint for a finding location.
func Fingerprint(commitID, file, ruleID string, startLine int) string {
	return strings.Join([]string{commitID, file, ruleID, strconv.Itoa(startLine)}, fingerprintSeparator)
}

// FingerprintWithoutCommit returns the commit-independent fingerprint for a
// finding location.
func FingerprintWithoutCommit(file, ruleID string, startLine int) string {
	return strings.Join([]string{file, ruleID, strconv.Itoa(startLine)}, fingerprintSeparator)
}

// ContentHash returns the hex encoded SHA3-512 digest of a secret value.
func ContentHash(secret string) string {
	sum := sha3.Sum512([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Identify derives all identifiers for a finding that has been bound to a
// commit and file path.
func Identify(f Finding) Identity {
	return Identity{
		Fingerprint:              Fingerprint(f.CommitID, f.File, f.RuleID, f.StartLine),
		FingerprintWithoutCommit: FingerprintWithoutCommit(f.File, f.RuleID, f.StartLine),
		ContentHash:              ContentHash(f.Secret),
	}
}
