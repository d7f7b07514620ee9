// Package memory provides an in-memory risk ledger for tests and local runs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/storage/risk"
)

var _ domain.RiskLedger = (*Ledger)(nil)

type entry struct {
	seq  int
	risk domain.SensitiveRisk
}

// Ledger is a concurrency safe RiskLedger kept in memory. It applies the same
// upsert semantics as the Postgres ledger.
type Ledger struct {
	mu      sync.RWMutex
	risks   map[string]*entry
	seq     int
	writes  int
	failFor map[string]error
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{risks: make(map[string]*entry), failFor: make(map[string]error)}
}

// Writes returns the number of record writes executed so far.
func (l *Ledger) Writes() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.writes
}

// FailWrite makes every write of fingerprint fail with err.
func (l *Ledger) FailWrite(fingerprint string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failFor[fingerprint] = err
}

// Put stores r directly, bypassing the upsert path.
func (l *Ledger) Put(r domain.SensitiveRisk) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	l.risks[r.Fingerprint] = &entry{seq: l.seq, risk: r}
}

// All returns every stored record ordered by insertion.
func (l *Ledger) All() []domain.SensitiveRisk {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sorted(func(domain.SensitiveRisk) bool { return true })
}

func (l *Ledger) sorted(keep func(domain.SensitiveRisk) bool) []domain.SensitiveRisk {
	entries := make([]*entry, 0, len(l.risks))
	for _, e := range l.risks {
		if keep(e.risk) {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *entry) int { return a.seq - b.seq })

	out := make([]domain.SensitiveRisk, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.risk)
	}
	return out
}

func (l *Ledger) FindByContentHash(_ context.Context, repositoryID int64, contentHash string) ([]domain.Risk, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matches := l.sorted(func(r domain.SensitiveRisk) bool {
		return r.RepositoryID == repositoryID && r.ContentHash == contentHash
	})
	out := make([]domain.Risk, 0, len(matches))
	for _, r := range matches {
		out = append(out, r.Risk)
	}
	return out, nil
}

func (l *Ledger) FindByFingerprint(_ context.Context, fingerprint string) (domain.Risk, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.risks[fingerprint]
	if !ok {
		return domain.Risk{}, domain.ErrRiskNotFound
	}
	return e.risk.Risk, nil
}

func (l *Ledger) FindSensitiveByFingerprints(_ context.Context, fingerprints []string) ([]domain.SensitiveRisk, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.SensitiveRisk, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if e, ok := l.risks[fp]; ok {
			out = append(out, e.risk)
		}
	}
	return out, nil
}

func (l *Ledger) BulkUpsert(ctx context.Context, risks []domain.SensitiveRisk) (domain.UpsertResult, error) {
	risks = risk.MergeByFingerprint(risks)

	fps := make([]string, 0, len(risks))
	for _, r := range risks {
		fps = append(fps, r.Fingerprint)
	}
	existing, _ := l.FindSensitiveByFingerprints(ctx, fps)
	stored := make(map[string]domain.SensitiveRisk, len(existing))
	for _, r := range existing {
		stored[r.Fingerprint] = r
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		res  domain.UpsertResult
		errs []error
	)
	now := time.Now().UTC()
	for _, r := range risks {
		if prev, ok := stored[r.Fingerprint]; ok && risk.Unchanged(prev, r) {
			res.Skipped++
			continue
		}
		if err := l.failFor[r.Fingerprint]; err != nil {
			errs = append(errs, err)
			continue
		}

		l.writes++
		res.Written++
		if e, ok := l.risks[r.Fingerprint]; ok {
			r.Status = e.risk.Status
			r.RiskOwner = e.risk.RiskOwner
			r.CreatedAt = e.risk.CreatedAt
			r.UpdatedAt = now
			e.risk = r
			continue
		}
		l.seq++
		r.CreatedAt, r.UpdatedAt = now, now
		l.risks[r.Fingerprint] = &entry{seq: l.seq, risk: r}
	}

	if len(errs) > 0 {
		return res, risk.JoinWriteErrors(errs)
	}
	return res, nil
}

func (l *Ledger) UpdateStatus(
	_ context.Context,
	repositoryID int64,
	fingerprints []string,
	status domain.RiskStatus,
	onlyFrom domain.RiskStatus,
) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var changed []string
	for _, fp := range fingerprints {
		e, ok := l.risks[fp]
		if !ok || e.risk.RepositoryID != repositoryID || e.risk.Status == status {
			continue
		}
		if onlyFrom != "" && e.risk.Status != onlyFrom {
			continue
		}
		e.risk.Status = status
		e.risk.UpdatedAt = time.Now().UTC()
		l.writes++
		changed = append(changed, fp)
	}
	return changed, nil
}

func (l *Ledger) DeleteByInstallation(_ context.Context, installationID int64) (int64, error) {
	return l.deleteWhere(func(r domain.SensitiveRisk) bool { return r.InstallationID == installationID }), nil
}

func (l *Ledger) DeleteByRepository(_ context.Context, repositoryID int64) (int64, error) {
	return l.deleteWhere(func(r domain.SensitiveRisk) bool { return r.RepositoryID == repositoryID }), nil
}

func (l *Ledger) deleteWhere(match func(domain.SensitiveRisk) bool) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for fp, e := range l.risks {
		if match(e.risk) {
			delete(l.risks, fp)
			n++
		}
	}
	return n
}
