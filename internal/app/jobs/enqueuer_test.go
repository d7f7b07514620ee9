package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/storage"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

type failingQueue struct {
	recordingQueue
	err error
}

func (q *failingQueue) Enqueue(context.Context, domain.Job) error { return q.err }

func validPushEvent() secretscanning.PushEvent {
	return secretscanning.PushEvent{
		OrganizationID: "acme",
		InstallationID: 7,
		Repository:     secretscanning.Repository{ID: 42, FullName: "acme/payments"},
		Commits:        []secretscanning.Commit{{ID: "c1", Added: []string{"a.env"}}},
		Pusher:         secretscanning.Pusher{Name: "octocat", Email: "octocat@acme.io"},
	}
}

func TestEnqueuePushEvent(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*secretscanning.PushEvent)
		wantErr  error
		wantSalt string
	}{
		{name: "assigns a salt"},
		{
			name:     "keeps an existing salt",
			mutate:   func(ev *secretscanning.PushEvent) { ev.Salt = "fixed" },
			wantSalt: "fixed",
		},
		{
			name:    "rejects events without commits",
			mutate:  func(ev *secretscanning.PushEvent) { ev.Commits = nil },
			wantErr: secretscanning.ErrInvalidPushEvent,
		},
		{
			name:    "rejects repositories without an owner",
			mutate:  func(ev *secretscanning.PushEvent) { ev.Repository.FullName = "payments" },
			wantErr: secretscanning.ErrInvalidPushEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := new(recordingQueue)
			e := NewEnqueuer(q, logger.Noop(), newTestWorkerMetrics(t), storage.NoOpTracer())

			ev := validPushEvent()
			if tt.mutate != nil {
				tt.mutate(&ev)
			}

			id, err := e.EnqueuePushEvent(context.Background(), ev)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, q.enqueued)
				return
			}
			require.NoError(t, err)
			require.Len(t, q.enqueued, 1)

			job := q.enqueued[0]
			assert.Equal(t, id, job.ID)
			assert.Equal(t, domain.TypeSecretScanningPush, job.Type)
			assert.Equal(t, 1, job.Attempt)

			var got secretscanning.PushEvent
			require.NoError(t, job.Decode(&got))
			assert.Equal(t, ev.Repository, got.Repository)
			if tt.wantSalt != "" {
				assert.Equal(t, tt.wantSalt, got.Salt)
			} else {
				assert.Len(t, got.Salt, 32)
			}
		})
	}
}

func TestEnqueuePushEventQueueFailure(t *testing.T) {
	q := &failingQueue{err: errors.New("broker unavailable")}
	e := NewEnqueuer(q, logger.Noop(), newTestWorkerMetrics(t), storage.NoOpTracer())

	_, err := e.EnqueuePushEvent(context.Background(), validPushEvent())
	assert.ErrorIs(t, err, q.err)
}

func TestEnqueueRepositoryReconcile(t *testing.T) {
	q := new(recordingQueue)
	e := NewEnqueuer(q, logger.Noop(), newTestWorkerMetrics(t), storage.NoOpTracer())
	repo := secretscanning.Repository{ID: 42, FullName: "acme/payments"}

	id, err := e.EnqueueRepositoryReconcile(context.Background(), 7, repo)
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, id, q.enqueued[0].ID)
	assert.Equal(t, domain.TypeSecretScanningReconcile, q.enqueued[0].Type)

	var req secretscanning.ReconcileRequest
	require.NoError(t, q.enqueued[0].Decode(&req))
	assert.Equal(t, int64(7), req.InstallationID)
	assert.Equal(t, repo, req.Repository)

	_, err = e.EnqueueRepositoryReconcile(context.Background(), 0, repo)
	assert.ErrorIs(t, err, secretscanning.ErrInvalidPushEvent)
	assert.Len(t, q.enqueued, 1)
}
