// Package memory provides an in-memory job queue. It offers a lightweight,
// non-persistent queue suitable for tests and single process development
// setups where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
)

var _ jobs.Queue = (*Queue)(nil)

var (
	// ErrClosed is returned when publishing to a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned when the buffer has no room for another job.
	ErrFull = errors.New("queue full")
)

// Queue delivers jobs through a buffered channel. Delayed jobs are held by
// timers until they become available. A delivery whose handler fails is put
// back on the queue.
//
// Only Enqueue is bounded. Jobs already accepted (timer-released or
// redelivered) that find the buffer full wait in an overflow list, which
// consumers drain before reading the channel.
type Queue struct {
	mu       sync.Mutex
	ch       chan jobs.Job
	overflow []jobs.Job
	timers   map[*time.Timer]struct{}
	closed   bool
}

// NewQueue creates a queue buffering up to size jobs.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 128
	}
	return &Queue{
		ch:     make(chan jobs.Job, size),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Enqueue publishes job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, job jobs.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- job:
		return nil
	default:
		return ErrFull
	}
}

// Schedule publishes job once delay has elapsed.
func (q *Queue) Schedule(ctx context.Context, job jobs.Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		q.requeue(job)
	})
	q.timers[t] = struct{}{}
	return nil
}

// Consume delivers jobs to handler until ctx is canceled or the queue is
// closed.
func (q *Queue) Consume(ctx context.Context, handler jobs.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	deliver := func(job jobs.Job) {
		if err := handler(ctx, job); err != nil {
			q.requeue(job)
		}
	}

	for {
		if job, ok := q.popOverflow(); ok {
			deliver(job)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.ch:
			if !ok {
				return nil
			}
			deliver(job)
		}
	}
}

// requeue makes an accepted job ready again. It never drops the job while the
// queue is open.
func (q *Queue) requeue(job jobs.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- job:
	default:
		q.overflow = append(q.overflow, job)
	}
}

func (q *Queue) popOverflow() (jobs.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.overflow) == 0 {
		return jobs.Job{}, false
	}
	job := q.overflow[0]
	q.overflow = q.overflow[1:]
	return job, true
}

// Len returns the number of jobs ready for delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ch) + len(q.overflow)
}

// Pending returns the number of delayed jobs not yet available.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close stops pending timers and ends every consumer.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
	q.overflow = nil
	close(q.ch)
	return nil
}
