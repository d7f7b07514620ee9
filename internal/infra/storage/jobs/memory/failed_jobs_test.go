package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
)

func TestFailedJobStore_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	store := NewFailedJobStore(jobs.DefaultFailedRetention)
	base := time.Now()

	for i := 0; i < 25; i++ {
		job, err := jobs.NewJob(jobs.TypeSecretScanningPush, i)
		require.NoError(t, err)
		require.NoError(t, store.Record(ctx, jobs.FailedJob{
			Job:      job,
			Error:    fmt.Sprintf("failure %d", i),
			FailedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.Equal(t, "failure 24", got[0].Error)
	assert.Equal(t, "failure 5", got[19].Error)
}
