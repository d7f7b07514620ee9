// Package postgres provides the PostgreSQL backed failed-job store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/internal/infra/storage"
)

// Ensure failedJobStore satisfies jobs.FailedJobStore (compile-time check).
var _ jobs.FailedJobStore = (*failedJobStore)(nil)

// failedJobStore keeps the most recent terminal job failures in the
// failed_jobs table, evicting the oldest rows beyond its retention.
type failedJobStore struct {
	pool      *pgxpool.Pool
	retention int
	tracer    trace.Tracer
}

// NewFailedJobStore creates a store retaining at most retention failures.
func NewFailedJobStore(pool *pgxpool.Pool, retention int, tracer trace.Tracer) *failedJobStore {
	if retention <= 0 {
		retention = jobs.DefaultFailedRetention
	}
	return &failedJobStore{pool: pool, retention: retention, tracer: tracer}
}

// Record inserts the failure and trims the table in one transaction.
func (s *failedJobStore) Record(ctx context.Context, failed jobs.FailedJob) error {
	dbAttrs := storage.DBAttributes("Record",
		attribute.String("job_id", failed.Job.ID.String()),
		attribute.Int("retention", s.retention),
	)

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.failed_jobs.record", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`INSERT INTO failed_jobs (id, job_type, payload, attempt, enqueued_at, error, failed_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET
					attempt = EXCLUDED.attempt,
					error = EXCLUDED.error,
					failed_at = EXCLUDED.failed_at`,
				failed.Job.ID,
				string(failed.Job.Type),
				[]byte(failed.Job.Payload),
				failed.Job.Attempt,
				failed.Job.EnqueuedAt,
				failed.Error,
				failed.FailedAt,
			); err != nil {
				return fmt.Errorf("insert failed job: %w", err)
			}

			if _, err := tx.Exec(ctx,
				`DELETE FROM failed_jobs WHERE id NOT IN (
					SELECT id FROM failed_jobs ORDER BY failed_at DESC, id LIMIT $1
				)`,
				s.retention,
			); err != nil {
				return fmt.Errorf("evict failed jobs: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failedJobStore.Record: %w", err)
	}

	return nil
}

// List returns the retained failures, newest first.
func (s *failedJobStore) List(ctx context.Context) ([]jobs.FailedJob, error) {
	dbAttrs := storage.DBAttributes("List")

	var out []jobs.FailedJob
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.failed_jobs.list", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT id, job_type, payload, attempt, enqueued_at, error, failed_at
			FROM failed_jobs ORDER BY failed_at DESC, id LIMIT $1`,
			s.retention,
		)
		if err != nil {
			return err
		}

		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (jobs.FailedJob, error) {
			var (
				f          jobs.FailedJob
				id         uuid.UUID
				jobType    string
				payload    []byte
				enqueuedAt time.Time
			)
			if err := row.Scan(&id, &jobType, &payload, &f.Job.Attempt, &enqueuedAt, &f.Error, &f.FailedAt); err != nil {
				return f, err
			}
			f.Job.ID = id
			f.Job.Type = jobs.Type(jobType)
			f.Job.Payload = payload
			f.Job.EnqueuedAt = enqueuedAt
			return f, nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failedJobStore.List: %w", err)
	}

	return out, nil
}
