package secretscanning

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const (
	// DefaultIncidentTemplate is the mail template for leak incidents.
	DefaultIncidentTemplate = "secret-leak-incident"

	// ScanTelemetryEvent is the analytics event recorded for every push.
	ScanTelemetryEvent = "cloud secret scan"
)

// NotificationDispatcher turns a push summary into an incident email and a
// usage analytics event.
type NotificationDispatcher struct {
	directory domain.OrgDirectory
	mailer    domain.Mailer
	telemetry domain.TelemetrySink
	template  string

	logger  *logger.Logger
	metrics ProcessingMetrics
	tracer  trace.Tracer
}

// NewNotificationDispatcher creates a dispatcher sending template through
// mailer. An empty template selects DefaultIncidentTemplate.
func NewNotificationDispatcher(
	directory domain.OrgDirectory,
	mailer domain.Mailer,
	telemetry domain.TelemetrySink,
	template string,
	logger *logger.Logger,
	metrics ProcessingMetrics,
	tracer trace.Tracer,
) *NotificationDispatcher {
	if template == "" {
		template = DefaultIncidentTemplate
	}
	return &NotificationDispatcher{
		directory: directory,
		mailer:    mailer,
		telemetry: telemetry,
		template:  template,
		logger:    logger.With("component", "notification_dispatcher"),
		metrics:   metrics,
		tracer:    tracer,
	}
}

// Dispatch emails the pusher and every organization admin or owner when the
// push surfaced open risks, then records the telemetry event regardless.
// Errors from either side effect are aggregated; the telemetry event is
// attempted even when the email fails.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, ev domain.PushEvent, summary domain.ScanSummary) error {
	ctx, span := d.tracer.Start(ctx, "notification_dispatcher.dispatch",
		trace.WithAttributes(
			attribute.String("repository", ev.Repository.FullName),
			attribute.Int("risks_found", summary.RisksFound()),
		))
	defer span.End()

	var result *multierror.Error

	if summary.RisksFound() > 0 {
		if err := d.notify(ctx, ev, summary); err != nil {
			d.metrics.IncNotificationErrors(ctx)
			span.RecordError(err)
			result = multierror.Append(result, err)
		} else {
			d.metrics.IncNotificationsSent(ctx)
		}
	}

	event := domain.TelemetryEvent{
		Event:      ScanTelemetryEvent,
		DistinctID: ev.Pusher.DistinctID(),
		Properties: map[string]any{
			"numberOfCommitsScanned": summary.CommitsScanned,
			"numberOfRisksFound":     summary.RisksFound(),
			"repository":             ev.Repository.FullName,
			"organizationId":         ev.OrganizationID,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := d.telemetry.Capture(ctx, event); err != nil {
		d.metrics.IncTelemetryErrors(ctx)
		span.RecordError(err)
		result = multierror.Append(result, fmt.Errorf("capture telemetry: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		span.SetStatus(codes.Error, "dispatch incomplete")
		return err
	}
	return nil
}

func (d *NotificationDispatcher) notify(ctx context.Context, ev domain.PushEvent, summary domain.ScanSummary) error {
	recipients := []string{ev.Pusher.Email}

	admins, err := d.directory.ListAdminsAndOwners(ctx, ev.OrganizationID)
	if err != nil {
		return fmt.Errorf("list admins and owners of %s: %w", ev.OrganizationID, err)
	}
	if len(admins) > 0 {
		ids := make([]string, 0, len(admins))
		for _, u := range admins {
			ids = append(ids, u.ID)
		}
		emails, err := d.directory.GetEmails(ctx, ids)
		if err != nil {
			return fmt.Errorf("get admin emails for %s: %w", ev.OrganizationID, err)
		}
		recipients = append(recipients, emails...)
	}

	recipients = dedupRecipients(recipients)
	if len(recipients) == 0 {
		d.logger.Warn(ctx, "No recipients for secret leak incident", "repository", ev.Repository.FullName)
		return nil
	}

	mail := domain.Mail{
		Template:      d.template,
		Recipients:    recipients,
		Subject:       IncidentSubject(summary.NewFindings, summary.StillUnresolved, ev.Repository.FullName),
		Substitutions: incidentSubstitutions(ev, summary),
	}
	if err := d.mailer.Send(ctx, mail); err != nil {
		return fmt.Errorf("send incident mail: %w", err)
	}

	d.logger.Info(ctx, "Secret leak incident sent",
		"repository", ev.Repository.FullName,
		"recipients", len(recipients),
	)
	return nil
}

// IncidentSubject renders the email subject for a push with open risks.
func IncidentSubject(newCount, unresolvedCount int, repository string) string {
	return fmt.Sprintf("%d new %s found and %d unresolved %s in %s",
		newCount, plural(newCount, "secret", "secrets"),
		unresolvedCount, plural(unresolvedCount, "secret remains", "secrets remain"),
		repository,
	)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func dedupRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		if !domain.IsEmailAddress(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func incidentSubstitutions(ev domain.PushEvent, summary domain.ScanSummary) map[string]any {
	findings := make([]map[string]any, 0, len(summary.PersistedFindings))
	for _, r := range summary.PersistedFindings {
		findings = append(findings, map[string]any{
			"ruleId":      r.RuleID,
			"file":        r.File,
			"startLine":   r.StartLine,
			"commitId":    r.CommitID,
			"fingerprint": r.Fingerprint,
		})
	}

	return map[string]any{
		"pusherName":             ev.Pusher.Name,
		"pusherEmail":            ev.Pusher.Email,
		"repository":             ev.Repository.FullName,
		"repositoryLink":         ev.Repository.Link(),
		"numberOfNewFindings":    summary.NewFindings,
		"numberOfUnresolved":     summary.StillUnresolved,
		"numberOfAlreadyHandled": summary.AlreadyResolved,
		"findings":               findings,
	}
}
