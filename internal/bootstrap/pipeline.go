package bootstrap

import (
	"context"
	"fmt"

	gootel "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/internal/app/secretscanning"
	"github.com/ahrav/pushwatch/internal/config"
	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/crypto"
	"github.com/ahrav/pushwatch/internal/infra/github"
	"github.com/ahrav/pushwatch/internal/infra/notify/logmail"
	"github.com/ahrav/pushwatch/internal/infra/notify/smtp"
	"github.com/ahrav/pushwatch/internal/infra/scanner"
	telemetrynoop "github.com/ahrav/pushwatch/internal/infra/telemetry/noop"
	"github.com/ahrav/pushwatch/internal/infra/telemetry/posthog"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

// Pipeline holds the job handlers registered by the worker.
type Pipeline struct {
	Push      *secretscanning.PushEventHandler
	Reconcile *secretscanning.RepositoryReconcileHandler
}

// NewPipeline builds the push scanning pipeline.
func NewPipeline(ctx context.Context, cfg *config.Config, stores *Stores, log *logger.Logger, tracer trace.Tracer) (*Pipeline, error) {
	metrics, err := secretscanning.NewProcessingMetrics(gootel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("creating processing metrics: %w", err)
	}

	fetcher := github.NewClient(github.Config{
		BaseURL:   cfg.GitHub.BaseURL,
		Token:     cfg.GitHub.Token,
		Timeout:   cfg.GitHub.Timeout,
		RetryMax:  cfg.GitHub.RetryMax,
		RateLimit: cfg.GitHub.RateLimit,
		RateBurst: cfg.GitHub.RateBurst,
	}, log, tracer)
	if cfg.GitHub.Token == "" {
		log.Warn(ctx, "No GitHub token configured; only public repositories can be fetched")
	}

	findingScanner, err := NewFindingScanner(ctx, cfg.Scanner, log, tracer)
	if err != nil {
		return nil, err
	}

	filter, err := scanner.NewPathFilter(cfg.Scanner.ExcludePaths)
	if err != nil {
		return nil, err
	}
	if patterns := filter.Patterns(); len(patterns) > 0 {
		log.Info(ctx, "Excluding paths from scanning", "patterns", patterns)
	}

	encryptor, err := crypto.NewAESGCMFromBase64(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("creating secret encryptor: %w", err)
	}

	reconciler := secretscanning.NewIgnoreFileReconciler(fetcher, stores.Ledger, cfg.Suppression.File, log, tracer)
	processor := secretscanning.NewPushEventProcessor(
		fetcher,
		findingScanner,
		stores.Ledger,
		reconciler,
		encryptor,
		log,
		metrics,
		tracer,
		secretscanning.WithFileConcurrency(cfg.Scanner.FileConcurrency),
		secretscanning.WithPathFilter(filter),
	)

	directory, err := OpenDirectory(cfg.Directory, stores, tracer)
	if err != nil {
		return nil, fmt.Errorf("opening organization directory: %w", err)
	}

	mailer, err := NewMailer(cfg.Mail, log, tracer)
	if err != nil {
		return nil, err
	}

	dispatcher := secretscanning.NewNotificationDispatcher(
		directory,
		mailer,
		NewTelemetrySink(cfg.Telemetry, log, tracer),
		cfg.Mail.Template,
		log,
		metrics,
		tracer,
	)

	return &Pipeline{
		Push:      secretscanning.NewPushEventHandler(processor, dispatcher, log),
		Reconcile: secretscanning.NewRepositoryReconcileHandler(reconciler, log),
	}, nil
}

// NewFindingScanner selects the detection engine.
func NewFindingScanner(ctx context.Context, cfg config.ScannerConfig, log *logger.Logger, tracer trace.Tracer) (domain.FindingScanner, error) {
	switch cfg.Mode {
	case "embedded":
		g, err := scanner.NewGitleaks(cfg.ConfigPath, log, tracer)
		if err != nil {
			return nil, fmt.Errorf("creating embedded scanner: %w", err)
		}
		log.Info(ctx, "Embedded gitleaks detector ready", "rules", g.RuleCount())
		return g, nil
	default:
		log.Info(ctx, "Using gitleaks binary", "path", cfg.BinaryPath)
		return scanner.NewCLI(scanner.CLIConfig{
			BinaryPath:       cfg.BinaryPath,
			ConfigPath:       cfg.ConfigPath,
			Timeout:          cfg.Timeout,
			FindingsExitCode: cfg.FindingsExitCode,
		}, log, tracer), nil
	}
}

// NewMailer relays through SMTP when a host is configured and only logs mail
// otherwise.
func NewMailer(cfg config.MailConfig, log *logger.Logger, tracer trace.Tracer) (domain.Mailer, error) {
	if cfg.Host == "" {
		return logmail.NewMailer(log), nil
	}

	m, err := smtp.NewMailer(smtp.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		From:     cfg.From,
		Username: cfg.Username,
		Password: cfg.Password,
	}, log, tracer)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewTelemetrySink returns the PostHog client, or a sink discarding events
// when no API key is configured.
func NewTelemetrySink(cfg config.TelemetryConfig, log *logger.Logger, tracer trace.Tracer) domain.TelemetrySink {
	if cfg.APIKey == "" {
		return telemetrynoop.Sink{}
	}
	return posthog.NewClient(posthog.Config{Host: cfg.Host, APIKey: cfg.APIKey}, log, tracer)
}
