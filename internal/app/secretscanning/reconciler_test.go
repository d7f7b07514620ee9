package secretscanning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	fetchermem "github.com/ahrav/pushwatch/internal/infra/github/memory"
	"github.com/ahrav/pushwatch/internal/infra/storage"
	riskmem "github.com/ahrav/pushwatch/internal/infra/storage/risk/memory"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

func seedRisk(l *riskmem.Ledger, fp string, repoID int64, status domain.RiskStatus) {
	l.Put(domain.SensitiveRisk{
		Risk: domain.Risk{
			Fingerprint:    fp,
			RepositoryID:   repoID,
			InstallationID: testInstallationID,
			Status:         status,
		},
		ContentHash: domain.ContentHash(fp),
	})
}

func TestReconcileRepository(t *testing.T) {
	repo := domain.Repository{ID: testRepoID, FullName: testRepoFullName}

	tests := []struct {
		name        string
		file        string
		fileName    string
		fetchErr    error
		seed        map[string]domain.RiskStatus
		wantChanged []string
		wantStatus  map[string]domain.RiskStatus
	}{
		{
			name: "resolves listed risks regardless of status",
			file: "fp-1\n# comment\n\nfp-2\nfp-1\n",
			seed: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
				"fp-2": domain.RiskStatusRevoked,
				"fp-3": domain.RiskStatusUnresolved,
			},
			wantChanged: []string{"fp-1", "fp-2"},
			wantStatus: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusFalsePositive,
				"fp-2": domain.RiskStatusFalsePositive,
				"fp-3": domain.RiskStatusUnresolved,
			},
		},
		{
			name:     "custom suppression file name",
			fileName: ".secretsignore",
			file:     "fp-1\n",
			seed: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
			wantChanged: []string{"fp-1"},
			wantStatus: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusFalsePositive,
			},
		},
		{
			name: "missing suppression file is a no-op",
			seed: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
			wantStatus: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
		},
		{
			name:     "fetch failure is absorbed",
			fetchErr: errors.New("bad gateway"),
			seed: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
			wantStatus: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
		},
		{
			name: "unknown fingerprints are ignored",
			file: "fp-404\n",
			seed: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
			wantStatus: map[string]domain.RiskStatus{
				"fp-1": domain.RiskStatusUnresolved,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			fetcher := fetchermem.NewFetcher()
			ledger := riskmem.NewLedger()
			for fp, status := range tt.seed {
				seedRisk(ledger, fp, testRepoID, status)
			}

			name := tt.fileName
			if name == "" {
				name = domain.DefaultSuppressionFile
			}
			if tt.file != "" {
				fetcher.Put("acme", "payments", name, "", []byte(tt.file))
			}
			if tt.fetchErr != nil {
				fetcher.Fail("acme", "payments", name, "", tt.fetchErr)
			}

			r := NewIgnoreFileReconciler(fetcher, ledger, tt.fileName, logger.Noop(), storage.NoOpTracer())
			res := r.ReconcileRepository(ctx, testInstallationID, repo)

			assert.ElementsMatch(t, tt.wantChanged, res.Fingerprints)
			assert.Equal(t, len(tt.wantChanged), res.Count())
			for fp, want := range tt.wantStatus {
				got, err := ledger.FindByFingerprint(ctx, fp)
				require.NoError(t, err)
				assert.Equal(t, want, got.Status, fp)
			}
		})
	}
}

func TestReconcilePushOnlyTouchesUnresolvedCandidates(t *testing.T) {
	ctx := context.Background()
	fetcher := fetchermem.NewFetcher()
	ledger := riskmem.NewLedger()
	seedRisk(ledger, "fp-1", testRepoID, domain.RiskStatusUnresolved)
	seedRisk(ledger, "fp-2", testRepoID, domain.RiskStatusUnresolved)
	seedRisk(ledger, "fp-3", testRepoID, domain.RiskStatusRevoked)
	fetcher.Put("acme", "payments", domain.DefaultSuppressionFile, "", []byte("fp-1\nfp-2\nfp-3\n"))

	r := NewIgnoreFileReconciler(fetcher, ledger, "", logger.Noop(), storage.NoOpTracer())
	res := r.ReconcilePush(ctx, testPushEvent(testCommit("c1", "a.env")), []string{"fp-1", "fp-3"})

	assert.Equal(t, []string{"fp-1"}, res.Fingerprints)

	fp2, err := ledger.FindByFingerprint(ctx, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStatusUnresolved, fp2.Status)

	fp3, err := ledger.FindByFingerprint(ctx, "fp-3")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStatusRevoked, fp3.Status)
}

func TestReconcilePushWithoutCandidatesSkipsFetch(t *testing.T) {
	fetcher := fetchermem.NewFetcher()
	r := NewIgnoreFileReconciler(fetcher, riskmem.NewLedger(), "", logger.Noop(), storage.NoOpTracer())

	res := r.ReconcilePush(context.Background(), testPushEvent(testCommit("c1", "a.env")), nil)

	assert.Zero(t, res.Count())
	assert.Empty(t, fetcher.Fetches())
}

func TestReconcileIgnoresOtherRepositories(t *testing.T) {
	ctx := context.Background()
	fetcher := fetchermem.NewFetcher()
	ledger := riskmem.NewLedger()
	seedRisk(ledger, "fp-1", 99, domain.RiskStatusUnresolved)
	fetcher.Put("acme", "payments", domain.DefaultSuppressionFile, "", []byte("fp-1\n"))

	r := NewIgnoreFileReconciler(fetcher, ledger, "", logger.Noop(), storage.NoOpTracer())
	res := r.ReconcileRepository(ctx, testInstallationID, domain.Repository{ID: testRepoID, FullName: testRepoFullName})

	assert.Zero(t, res.Count())
	got, err := ledger.FindByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStatusUnresolved, got.Status)
}
