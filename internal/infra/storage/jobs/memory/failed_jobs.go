// Package memory provides an in-memory failed-job store.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
)

var _ jobs.FailedJobStore = (*FailedJobStore)(nil)

// FailedJobStore keeps the newest terminal failures up to its retention.
type FailedJobStore struct {
	mu        sync.Mutex
	retention int
	// newest last
	failed []jobs.FailedJob
}

// NewFailedJobStore creates a store retaining at most retention failures.
func NewFailedJobStore(retention int) *FailedJobStore {
	if retention <= 0 {
		retention = jobs.DefaultFailedRetention
	}
	return &FailedJobStore{retention: retention}
}

func (s *FailedJobStore) Record(_ context.Context, failed jobs.FailedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed = append(s.failed, failed)
	if over := len(s.failed) - s.retention; over > 0 {
		s.failed = append([]jobs.FailedJob(nil), s.failed[over:]...)
	}
	return nil
}

func (s *FailedJobStore) List(_ context.Context) ([]jobs.FailedJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]jobs.FailedJob, 0, len(s.failed))
	for i := len(s.failed) - 1; i >= 0; i-- {
		out = append(out, s.failed[i])
	}
	return out, nil
}
