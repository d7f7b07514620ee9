package jobs

import (
	"context"
	"time"
)

// HandlerFunc processes one delivery of a job. A nil error acknowledges it.
type HandlerFunc func(ctx context.Context, job Job) error

// Queue is a durable at-least-once job queue.
type Queue interface {
	// Enqueue publishes a job for immediate delivery.
	Enqueue(ctx context.Context, job Job) error

	// Schedule publishes a job for delivery once delay has elapsed.
	Schedule(ctx context.Context, job Job, delay time.Duration) error

	// Consume delivers jobs to handler until ctx is canceled. A job is
	// acknowledged only after handler returns.
	Consume(ctx context.Context, handler HandlerFunc) error

	Close() error
}

// FailedJobStore retains the most recent terminal failures for inspection.
type FailedJobStore interface {
	// Record stores a failure and evicts the oldest entries beyond retention.
	Record(ctx context.Context, failed FailedJob) error

	// List returns the retained failures, newest first.
	List(ctx context.Context) ([]FailedJob, error)
}
