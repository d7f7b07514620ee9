package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

func sampleRisk() domain.SensitiveRisk {
	return domain.SensitiveRisk{
		Risk: domain.Risk{
			Fingerprint:  "c1:a.go:rule:1",
			RepositoryID: 7,
			Status:       domain.RiskStatusUnresolved,
			RuleID:       "rule",
			File:         "a.go",
			StartLine:    1,
			CreatedAt:    time.Unix(100, 0),
		},
		ContentHash: "hash",
		Secret:      domain.EncryptedSecret{Ciphertext: "ct", IV: "iv-1"},
	}
}

func TestUnchanged(t *testing.T) {
	stored := sampleRisk()

	tests := []struct {
		name   string
		mutate func(r *domain.SensitiveRisk)
		want   bool
	}{
		{name: "identical", mutate: func(*domain.SensitiveRisk) {}, want: true},
		{name: "new envelope", mutate: func(r *domain.SensitiveRisk) { r.Secret.IV = "iv-2" }, want: true},
		{name: "timestamps", mutate: func(r *domain.SensitiveRisk) { r.CreatedAt = time.Now(); r.UpdatedAt = time.Now() }, want: true},
		{name: "nil vs empty tags", mutate: func(r *domain.SensitiveRisk) { r.Tags = []string{} }, want: true},
		{name: "status preserved by upsert", mutate: func(r *domain.SensitiveRisk) { r.Status = domain.RiskStatusRevoked }, want: true},
		{name: "different line", mutate: func(r *domain.SensitiveRisk) { r.EndLine = 9 }, want: false},
		{name: "different hash", mutate: func(r *domain.SensitiveRisk) { r.ContentHash = "other" }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := sampleRisk()
			tt.mutate(&incoming)
			assert.Equal(t, tt.want, Unchanged(stored, incoming))
		})
	}
}

func TestMergeByFingerprint(t *testing.T) {
	a := sampleRisk()
	b := sampleRisk()
	b.Fingerprint = "c1:b.go:rule:1"
	a2 := sampleRisk()
	a2.EndLine = 3

	got := MergeByFingerprint([]domain.SensitiveRisk{a, b, a2})

	assert.Len(t, got, 2)
	assert.Equal(t, a.Fingerprint, got[0].Fingerprint)
	assert.Equal(t, 3, got[0].EndLine)
	assert.Equal(t, b.Fingerprint, got[1].Fingerprint)
}
