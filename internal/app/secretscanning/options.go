package secretscanning

// ProcessorOption configures a PushEventProcessor.
type ProcessorOption func(*PushEventProcessor)

// WithFileConcurrency fetches and scans up to n changed files at once.
// Dedup and staging always run sequentially.
func WithFileConcurrency(n int) ProcessorOption {
	return func(p *PushEventProcessor) {
		if n > 0 {
			p.fileConcurrency = n
		}
	}
}

// PathFilter decides which changed files are excluded from scanning.
type PathFilter interface {
	Skip(path string) bool
}

// WithPathFilter skips changed files matched by f. Skipped files are neither
// fetched nor counted as scanned.
func WithPathFilter(f PathFilter) ProcessorOption {
	return func(p *PushEventProcessor) {
		p.pathFilter = f
	}
}
