package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
)

func newTestJob(t *testing.T) jobs.Job {
	t.Helper()
	job, err := jobs.NewJob(jobs.TypeSecretScanningPush, map[string]string{"repo": "acme/api"})
	require.NoError(t, err)
	return job
}

func TestQueue_EnqueueConsume(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := newTestJob(t)
	require.NoError(t, q.Enqueue(ctx, job))

	got := make(chan jobs.Job, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, j jobs.Job) error {
			got <- j
			return nil
		})
	}()

	select {
	case j := <-got:
		assert.Equal(t, job.ID, j.ID)
	case <-time.After(time.Second):
		t.Fatal("job not delivered")
	}
}

func TestQueue_ScheduleDelaysDelivery(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, newTestJob(t), 50*time.Millisecond))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 1, q.Pending())

	assert.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_RedeliversOnHandlerError(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, newTestJob(t)))

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, func(context.Context, jobs.Job) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-time.After(time.Second):
		t.Fatal("job not redelivered")
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Schedule(context.Background(), newTestJob(t), time.Hour))
	require.NoError(t, q.Close())

	assert.Equal(t, 0, q.Pending())
	assert.ErrorIs(t, q.Enqueue(context.Background(), newTestJob(t)), ErrClosed)
	assert.NoError(t, q.Consume(context.Background(), func(context.Context, jobs.Job) error { return nil }))
}

func TestQueue_ScheduledJobSurvivesFullBuffer(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	retry, filler := newTestJob(t), newTestJob(t)
	require.NoError(t, q.Schedule(ctx, retry, 20*time.Millisecond))
	require.NoError(t, q.Enqueue(ctx, filler))

	assert.Eventually(t, func() bool { return q.Pending() == 0 && q.Len() == 2 }, time.Second, 5*time.Millisecond)

	got := make(chan jobs.Job, 2)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, j jobs.Job) error {
			got <- j
			return nil
		})
	}()

	seen := make(map[uuid.UUID]bool)
	for range 2 {
		select {
		case j := <-got:
			seen[j.ID] = true
		case <-time.After(time.Second):
			t.Fatal("job not delivered")
		}
	}
	assert.True(t, seen[retry.ID])
	assert.True(t, seen[filler.ID])
}

func TestQueue_RedeliveryIntoFullBufferKeepsConsuming(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, second := newTestJob(t), newTestJob(t)
	require.NoError(t, q.Enqueue(ctx, first))

	var mu sync.Mutex
	var handled []uuid.UUID
	failedOnce := false
	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- q.Consume(ctx, func(ctx context.Context, j jobs.Job) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, j.ID)
			if j.ID == first.ID && !failedOnce {
				failedOnce = true
				require.NoError(t, q.Enqueue(ctx, second))
				return errors.New("transient")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-consumeErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []uuid.UUID{first.ID, first.ID, second.ID}, handled)
}
