// Package storage holds the helpers shared by the Postgres stores: span
// wrapping for queries and schema migrations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/pushwatch/pkg/common/otel"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// DBAttributes returns the span attributes for a store method.
func DBAttributes(method string, extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra)+1)
	attrs = append(attrs, defaultDBAttributes...)
	attrs = append(attrs, attribute.String("db.operation", method))
	return append(attrs, extra...)
}

// ExecuteAndTrace runs operation inside a client span named spanName. A
// failing operation marks the span as errored and its error is returned
// unchanged so callers can still match sentinels.
func ExecuteAndTrace(
	ctx context.Context,
	tracer trace.Tracer,
	spanName string,
	attributes []attribute.KeyValue,
	operation func(ctx context.Context) error,
) error {
	ctx, span := tracer.Start(
		ctx,
		spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attributes...),
	)
	defer span.End()

	return otel.FailSpan(span, operation(ctx))
}

// QueryAndTrace is ExecuteAndTrace for reads that produce a value.
func QueryAndTrace[T any](
	ctx context.Context,
	tracer trace.Tracer,
	spanName string,
	attributes []attribute.KeyValue,
	query func(ctx context.Context) (T, error),
) (T, error) {
	var out T
	err := ExecuteAndTrace(ctx, tracer, spanName, attributes, func(ctx context.Context) error {
		var err error
		out, err = query(ctx)
		return err
	})
	return out, err
}

// Migrate brings the schema in db up to the newest migration found in dir.
// An already current schema is not an error.
func Migrate(db *sql.DB, dir string) error {
	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return fmt.Errorf("loading migrations from %s: %w", dir, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NoOpTracer returns a tracer that records nothing.
func NoOpTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("noop") }
