package secretscanning

import "errors"

var (
	// ErrFileNotFound is returned by a ContentFetcher when the file does not
	// exist at the requested ref. Callers treat it as empty content.
	ErrFileNotFound = errors.New("file not found")

	// ErrScannerFailed is returned when the detection engine exits with an
	// unexpected status.
	ErrScannerFailed = errors.New("scanner failed")

	// ErrScannerOutputMalformed is returned when the engine's report cannot be
	// decoded.
	ErrScannerOutputMalformed = errors.New("scanner output malformed")

	// ErrInvalidPushEvent is returned when a push event fails validation.
	ErrInvalidPushEvent = errors.New("invalid push event")

	// ErrRiskNotFound is returned by single record ledger lookups.
	ErrRiskNotFound = errors.New("risk not found")
)
