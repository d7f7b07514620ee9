// Package postgres provides the organization directory backed by the
// org_users and org_memberships tables.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/storage"
)

var _ domain.OrgDirectory = (*directory)(nil)

type directory struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewDirectory creates a directory reading from pool.
func NewDirectory(pool *pgxpool.Pool, tracer trace.Tracer) *directory {
	return &directory{pool: pool, tracer: tracer}
}

// ListAdminsAndOwners returns the members holding the admin or owner role,
// ordered by user id.
func (d *directory) ListAdminsAndOwners(ctx context.Context, organizationID string) ([]domain.User, error) {
	dbAttrs := storage.DBAttributes("ListAdminsAndOwners", attribute.String("organization_id", organizationID))

	var users []domain.User
	err := storage.ExecuteAndTrace(ctx, d.tracer, "postgres.directory.list_admins_and_owners", dbAttrs, func(ctx context.Context) error {
		rows, err := d.pool.Query(ctx,
			`SELECT u.id, u.email
			FROM org_memberships m
			JOIN org_users u ON u.id = m.user_id
			WHERE m.organization_id = $1 AND m.role IN ('admin', 'owner')
			ORDER BY u.id`,
			organizationID,
		)
		if err != nil {
			return err
		}
		users, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
			var u domain.User
			err := row.Scan(&u.ID, &u.Email)
			return u, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("directory.ListAdminsAndOwners: %w", err)
	}
	return users, nil
}

// GetEmails returns the email of every known user in userIDs, in input order.
func (d *directory) GetEmails(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	dbAttrs := storage.DBAttributes("GetEmails", attribute.Int("user_count", len(userIDs)))

	var emails []string
	err := storage.ExecuteAndTrace(ctx, d.tracer, "postgres.directory.get_emails", dbAttrs, func(ctx context.Context) error {
		rows, err := d.pool.Query(ctx,
			`SELECT u.email
			FROM unnest($1::text[]) WITH ORDINALITY AS ids(id, ord)
			JOIN org_users u ON u.id = ids.id
			WHERE u.email <> ''
			ORDER BY ids.ord`,
			userIDs,
		)
		if err != nil {
			return err
		}
		emails, err = pgx.CollectRows(rows, pgx.RowTo[string])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("directory.GetEmails: %w", err)
	}
	return emails, nil
}

// AddMember upserts the user and its membership of organizationID.
func (d *directory) AddMember(ctx context.Context, organizationID string, user domain.User, role string) error {
	dbAttrs := storage.DBAttributes("AddMember",
		attribute.String("organization_id", organizationID),
		attribute.String("role", role),
	)

	err := storage.ExecuteAndTrace(ctx, d.tracer, "postgres.directory.add_member", dbAttrs, func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`INSERT INTO org_users (id, email) VALUES ($1, $2)
				ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email`,
				user.ID, user.Email,
			); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO org_memberships (organization_id, user_id, role) VALUES ($1, $2, $3)
				ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
				organizationID, user.ID, role,
			)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("directory.AddMember: %w", err)
	}
	return nil
}
