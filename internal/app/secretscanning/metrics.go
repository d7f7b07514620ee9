package secretscanning

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
)

// ProcessingMetrics defines the metrics recorded while processing push events.
type ProcessingMetrics interface {
	IncFilesScanned(ctx context.Context)
	IncFileFetchErrors(ctx context.Context)
	AddFindings(ctx context.Context, c domain.Classification, n int)
	AddLedgerWrites(ctx context.Context, written, skipped int)
	AddReconciled(ctx context.Context, n int)
	IncNotificationsSent(ctx context.Context)
	IncNotificationErrors(ctx context.Context)
	IncTelemetryErrors(ctx context.Context)
}

type processingMetrics struct {
	filesScanned       metric.Int64Counter
	fileFetchErrors    metric.Int64Counter
	findings           metric.Int64Counter
	ledgerWrites       metric.Int64Counter
	ledgerSkips        metric.Int64Counter
	reconciled         metric.Int64Counter
	notificationsSent  metric.Int64Counter
	notificationErrors metric.Int64Counter
	telemetryErrors    metric.Int64Counter
}

const namespace = "secret_scanning"

// NewProcessingMetrics creates the push processing instruments on mp.
func NewProcessingMetrics(mp metric.MeterProvider) (*processingMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(processingMetrics)
	var err error

	if m.filesScanned, err = meter.Int64Counter(
		"files_scanned_total",
		metric.WithDescription("Total number of changed files scanned"),
	); err != nil {
		return nil, err
	}

	if m.fileFetchErrors, err = meter.Int64Counter(
		"file_fetch_errors_total",
		metric.WithDescription("Total number of changed files that could not be fetched"),
	); err != nil {
		return nil, err
	}

	if m.findings, err = meter.Int64Counter(
		"findings_total",
		metric.WithDescription("Total number of findings by dedup classification"),
	); err != nil {
		return nil, err
	}

	if m.ledgerWrites, err = meter.Int64Counter(
		"ledger_writes_total",
		metric.WithDescription("Total number of risk records written"),
	); err != nil {
		return nil, err
	}

	if m.ledgerSkips, err = meter.Int64Counter(
		"ledger_writes_skipped_total",
		metric.WithDescription("Total number of risk writes skipped because nothing changed"),
	); err != nil {
		return nil, err
	}

	if m.reconciled, err = meter.Int64Counter(
		"risks_reconciled_total",
		metric.WithDescription("Total number of risks resolved through the suppression file"),
	); err != nil {
		return nil, err
	}

	if m.notificationsSent, err = meter.Int64Counter(
		"notifications_sent_total",
		metric.WithDescription("Total number of incident emails sent"),
	); err != nil {
		return nil, err
	}

	if m.notificationErrors, err = meter.Int64Counter(
		"notification_errors_total",
		metric.WithDescription("Total number of incident emails that failed to send"),
	); err != nil {
		return nil, err
	}

	if m.telemetryErrors, err = meter.Int64Counter(
		"telemetry_errors_total",
		metric.WithDescription("Total number of telemetry events that failed to record"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *processingMetrics) IncFilesScanned(ctx context.Context) { m.filesScanned.Add(ctx, 1) }

func (m *processingMetrics) IncFileFetchErrors(ctx context.Context) { m.fileFetchErrors.Add(ctx, 1) }

func (m *processingMetrics) AddFindings(ctx context.Context, c domain.Classification, n int) {
	m.findings.Add(ctx, int64(n), metric.WithAttributes(attribute.String("classification", c.String())))
}

func (m *processingMetrics) AddLedgerWrites(ctx context.Context, written, skipped int) {
	m.ledgerWrites.Add(ctx, int64(written))
	m.ledgerSkips.Add(ctx, int64(skipped))
}

func (m *processingMetrics) AddReconciled(ctx context.Context, n int) { m.reconciled.Add(ctx, int64(n)) }

func (m *processingMetrics) IncNotificationsSent(ctx context.Context) { m.notificationsSent.Add(ctx, 1) }

func (m *processingMetrics) IncNotificationErrors(ctx context.Context) {
	m.notificationErrors.Add(ctx, 1)
}

func (m *processingMetrics) IncTelemetryErrors(ctx context.Context) { m.telemetryErrors.Add(ctx, 1) }
