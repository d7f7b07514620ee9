// Package postgres provides the PostgreSQL backed risk ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/storage"
	"github.com/ahrav/pushwatch/internal/infra/storage/risk"
)

// Ensure ledgerStore satisfies domain.RiskLedger (compile-time check).
var _ domain.RiskLedger = (*ledgerStore)(nil)

const defaultWriteConcurrency = 8

// ledgerStore implements domain.RiskLedger on the risks table. Bulk upserts
// read the stored records first and only write the ones that changed; the
// remaining writes are issued independently so a failing record does not
// abort the others.
type ledgerStore struct {
	pool             *pgxpool.Pool
	writeConcurrency int
	tracer           trace.Tracer
}

// NewLedgerStore creates a PostgreSQL-backed risk ledger.
func NewLedgerStore(pool *pgxpool.Pool, tracer trace.Tracer) *ledgerStore {
	return &ledgerStore{pool: pool, writeConcurrency: defaultWriteConcurrency, tracer: tracer}
}

const projectedColumns = `fingerprint, fingerprint_without_commit,
	repository_id, repository_full_name, repository_link, installation_id, organization_id,
	status, rule_id, description, file, start_line, end_line, start_column, end_column, entropy, tags,
	commit_id, commit_message, author_name, author_email, pusher_name, pusher_email, risk_owner,
	created_at, updated_at`

const sensitiveColumns = projectedColumns + `,
	content_hash, secret_ciphertext, secret_iv, secret_tag, secret_algorithm, secret_key_encoding`

func (s *ledgerStore) FindByContentHash(
	ctx context.Context,
	repositoryID int64,
	contentHash string,
) ([]domain.Risk, error) {
	dbAttrs := storage.DBAttributes("FindByContentHash", attribute.Int64("repository_id", repositoryID))

	risks, err := storage.QueryAndTrace(ctx, s.tracer, "postgres.risks.find_by_content_hash", dbAttrs,
		func(ctx context.Context) ([]domain.Risk, error) {
			rows, err := s.pool.Query(ctx,
				`SELECT `+projectedColumns+` FROM risks
				WHERE repository_id = $1 AND content_hash = $2
				ORDER BY created_at ASC, fingerprint ASC`,
				repositoryID, contentHash,
			)
			if err != nil {
				return nil, err
			}
			return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Risk, error) {
				var r domain.Risk
				return r, row.Scan(projectedDest(&r)...)
			})
		})
	if err != nil {
		return nil, fmt.Errorf("ledgerStore.FindByContentHash: %w", err)
	}

	return risks, nil
}

func (s *ledgerStore) FindByFingerprint(ctx context.Context, fingerprint string) (domain.Risk, error) {
	dbAttrs := storage.DBAttributes("FindByFingerprint", attribute.String("fingerprint", fingerprint))

	var r domain.Risk
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.risks.find_by_fingerprint", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+projectedColumns+` FROM risks WHERE fingerprint = $1`, fingerprint)
		if err := row.Scan(projectedDest(&r)...); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrRiskNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Risk{}, fmt.Errorf("ledgerStore.FindByFingerprint: %w", err)
	}

	return r, nil
}

func (s *ledgerStore) FindSensitiveByFingerprints(
	ctx context.Context,
	fingerprints []string,
) ([]domain.SensitiveRisk, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	dbAttrs := storage.DBAttributes("FindSensitiveByFingerprints", attribute.Int("fingerprints", len(fingerprints)))

	var risks []domain.SensitiveRisk
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.risks.find_sensitive", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT `+sensitiveColumns+` FROM risks WHERE fingerprint = ANY($1)`,
			fingerprints,
		)
		if err != nil {
			return err
		}
		risks, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SensitiveRisk, error) {
			var r domain.SensitiveRisk
			dest := append(projectedDest(&r.Risk),
				&r.ContentHash,
				&r.Secret.Ciphertext,
				&r.Secret.IV,
				&r.Secret.Tag,
				&r.Secret.Algorithm,
				&r.Secret.KeyEncoding,
			)
			return r, row.Scan(dest...)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ledgerStore.FindSensitiveByFingerprints: %w", err)
	}

	return risks, nil
}

const upsertRisk = `INSERT INTO risks (
	fingerprint, fingerprint_without_commit, content_hash,
	repository_id, repository_full_name, repository_link, installation_id, organization_id,
	status, rule_id, description, file, start_line, end_line, start_column, end_column, entropy, tags,
	commit_id, commit_message, author_name, author_email, pusher_name, pusher_email,
	secret_ciphertext, secret_iv, secret_tag, secret_algorithm, secret_key_encoding
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
)
ON CONFLICT (fingerprint) DO UPDATE SET
	fingerprint_without_commit = EXCLUDED.fingerprint_without_commit,
	content_hash = EXCLUDED.content_hash,
	repository_id = EXCLUDED.repository_id,
	repository_full_name = EXCLUDED.repository_full_name,
	repository_link = EXCLUDED.repository_link,
	installation_id = EXCLUDED.installation_id,
	organization_id = EXCLUDED.organization_id,
	rule_id = EXCLUDED.rule_id,
	description = EXCLUDED.description,
	file = EXCLUDED.file,
	start_line = EXCLUDED.start_line,
	end_line = EXCLUDED.end_line,
	start_column = EXCLUDED.start_column,
	end_column = EXCLUDED.end_column,
	entropy = EXCLUDED.entropy,
	tags = EXCLUDED.tags,
	commit_id = EXCLUDED.commit_id,
	commit_message = EXCLUDED.commit_message,
	author_name = EXCLUDED.author_name,
	author_email = EXCLUDED.author_email,
	pusher_name = EXCLUDED.pusher_name,
	pusher_email = EXCLUDED.pusher_email,
	secret_ciphertext = EXCLUDED.secret_ciphertext,
	secret_iv = EXCLUDED.secret_iv,
	secret_tag = EXCLUDED.secret_tag,
	secret_algorithm = EXCLUDED.secret_algorithm,
	secret_key_encoding = EXCLUDED.secret_key_encoding,
	updated_at = NOW()`

// BulkUpsert writes every record that differs from its stored state. Status,
// owner and creation time of existing records are never overwritten.
func (s *ledgerStore) BulkUpsert(ctx context.Context, risks []domain.SensitiveRisk) (domain.UpsertResult, error) {
	risks = risk.MergeByFingerprint(risks)
	dbAttrs := storage.DBAttributes("BulkUpsert", attribute.Int("batch_size", len(risks)))

	var res domain.UpsertResult
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.risks.bulk_upsert", dbAttrs, func(ctx context.Context) error {
		fps := make([]string, 0, len(risks))
		for _, r := range risks {
			fps = append(fps, r.Fingerprint)
		}
		existing, err := s.FindSensitiveByFingerprints(ctx, fps)
		if err != nil {
			return err
		}
		stored := make(map[string]domain.SensitiveRisk, len(existing))
		for _, r := range existing {
			stored[r.Fingerprint] = r
		}

		staged := make([]domain.SensitiveRisk, 0, len(risks))
		for _, r := range risks {
			if prev, ok := stored[r.Fingerprint]; ok && risk.Unchanged(prev, r) {
				res.Skipped++
				continue
			}
			staged = append(staged, r)
		}
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int("staged", len(staged)),
			attribute.Int("skipped", res.Skipped),
		)
		if len(staged) == 0 {
			return nil
		}

		// errgroup.WithContext would cancel the remaining writes on the first
		// failure, so failures are collected instead of returned.
		var (
			g       errgroup.Group
			mu      sync.Mutex
			errs    *multierror.Error
			written int
		)
		g.SetLimit(s.writeConcurrency)
		for _, r := range staged {
			g.Go(func() error {
				_, err := s.pool.Exec(ctx, upsertRisk, upsertArgs(r)...)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("upsert %s: %w", r.Fingerprint, err))
					return nil
				}
				written++
				return nil
			})
		}
		_ = g.Wait()

		res.Written = written
		return errs.ErrorOrNil()
	})
	if err != nil {
		return res, fmt.Errorf("ledgerStore.BulkUpsert: %w", err)
	}

	return res, nil
}

func (s *ledgerStore) UpdateStatus(
	ctx context.Context,
	repositoryID int64,
	fingerprints []string,
	status domain.RiskStatus,
	onlyFrom domain.RiskStatus,
) ([]string, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	dbAttrs := storage.DBAttributes("UpdateStatus",
		attribute.Int64("repository_id", repositoryID),
		attribute.String("status", status.String()),
		attribute.Int("fingerprints", len(fingerprints)),
	)

	changed, err := storage.QueryAndTrace(ctx, s.tracer, "postgres.risks.update_status", dbAttrs,
		func(ctx context.Context) ([]string, error) {
			rows, err := s.pool.Query(ctx,
				`UPDATE risks SET status = $3, updated_at = NOW()
				WHERE repository_id = $1
					AND fingerprint = ANY($2)
					AND status <> $3
					AND ($4::text = '' OR status = $4::text)
				RETURNING fingerprint`,
				repositoryID, fingerprints, status.String(), onlyFrom.String(),
			)
			if err != nil {
				return nil, err
			}
			return pgx.CollectRows(rows, pgx.RowTo[string])
		})
	if err != nil {
		return nil, fmt.Errorf("ledgerStore.UpdateStatus: %w", err)
	}

	return changed, nil
}

func (s *ledgerStore) DeleteByInstallation(ctx context.Context, installationID int64) (int64, error) {
	dbAttrs := storage.DBAttributes("DeleteByInstallation", attribute.Int64("installation_id", installationID))

	var n int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.risks.delete_by_installation", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM risks WHERE installation_id = $1`, installationID)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledgerStore.DeleteByInstallation: %w", err)
	}

	return n, nil
}

func (s *ledgerStore) DeleteByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	dbAttrs := storage.DBAttributes("DeleteByRepository", attribute.Int64("repository_id", repositoryID))

	var n int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.risks.delete_by_repository", dbAttrs, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM risks WHERE repository_id = $1`, repositoryID)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledgerStore.DeleteByRepository: %w", err)
	}

	return n, nil
}

func projectedDest(r *domain.Risk) []any {
	return []any{
		&r.Fingerprint, &r.FingerprintWithoutCommit,
		&r.RepositoryID, &r.RepositoryFullName, &r.RepositoryLink, &r.InstallationID, &r.OrganizationID,
		&r.Status, &r.RuleID, &r.Description, &r.File,
		&r.StartLine, &r.EndLine, &r.StartColumn, &r.EndColumn, &r.Entropy, &r.Tags,
		&r.CommitID, &r.CommitMessage, &r.AuthorName, &r.AuthorEmail, &r.PusherName, &r.PusherEmail,
		&r.RiskOwner,
		&r.CreatedAt, &r.UpdatedAt,
	}
}

func upsertArgs(r domain.SensitiveRisk) []any {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	status := r.Status
	if status == "" {
		status = domain.RiskStatusUnresolved
	}

	return []any{
		r.Fingerprint, r.FingerprintWithoutCommit, r.ContentHash,
		r.RepositoryID, r.RepositoryFullName, r.RepositoryLink, r.InstallationID, r.OrganizationID,
		status.String(), r.RuleID, r.Description, r.File,
		r.StartLine, r.EndLine, r.StartColumn, r.EndColumn, r.Entropy, tags,
		r.CommitID, r.CommitMessage, r.AuthorName, r.AuthorEmail, r.PusherName, r.PusherEmail,
		r.Secret.Ciphertext, r.Secret.IV, r.Secret.Tag, r.Secret.Algorithm, r.Secret.KeyEncoding,
	}
}
