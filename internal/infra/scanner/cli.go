package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/zricethezav/gitleaks/v8/report"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

var _ domain.FindingScanner = (*CLI)(nil)

// DefaultFindingsExitCode is the exit status the engine is told to use when
// it found secrets. It is distinct from the generic failure status 1.
const DefaultFindingsExitCode = 77

// CLIConfig configures the out-of-process scanner.
type CLIConfig struct {
	// BinaryPath is the gitleaks executable. Defaults to "gitleaks" on PATH.
	BinaryPath string
	// ConfigPath optionally points at a gitleaks TOML rule file.
	ConfigPath       string
	Timeout          time.Duration
	FindingsExitCode int
}

// CLI runs the gitleaks binary over a temporary input file and reads the JSON
// report it writes to a temporary output path.
type CLI struct {
	cfg CLIConfig

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCLI creates a CLI scanner.
func NewCLI(cfg CLIConfig, log *logger.Logger, tracer trace.Tracer) *CLI {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "gitleaks"
	}
	if cfg.FindingsExitCode == 0 {
		cfg.FindingsExitCode = DefaultFindingsExitCode
	}
	return &CLI{cfg: cfg, logger: log.With("component", "gitleaks_cli_scanner"), tracer: tracer}
}

// Scan writes content to a temporary file and runs the engine over it. The
// findings exit code is a success; any other non-zero exit is ErrScannerFailed
// and an unreadable report is ErrScannerOutputMalformed.
func (s *CLI) Scan(ctx context.Context, content []byte) ([]domain.Finding, error) {
	ctx, span := s.tracer.Start(ctx, "gitleaks_cli_scanner.scan",
		trace.WithAttributes(
			attribute.String("binary", s.cfg.BinaryPath),
			attribute.Int("content_size", len(content)),
		))
	defer span.End()

	dir, err := os.MkdirTemp("", "pushwatch-scan-*")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create temp dir")
		return nil, fmt.Errorf("failed to create scan directory: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input")
	reportPath := filepath.Join(dir, "report.json")
	if err := os.WriteFile(inputPath, content, 0o600); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write input")
		return nil, fmt.Errorf("failed to write scan input: %w", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.cfg.BinaryPath, s.args(inputPath, reportPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != s.cfg.FindingsExitCode {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scanner process failed")
			return nil, fmt.Errorf("%w: %v: %s", domain.ErrScannerFailed, err, stderr.String())
		}
		span.AddEvent("findings_exit_code")
	}

	raw, err := os.ReadFile(reportPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing report")
		return nil, fmt.Errorf("%w: %v", domain.ErrScannerOutputMalformed, err)
	}

	var results []report.Finding
	if err := json.Unmarshal(raw, &results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed report")
		return nil, fmt.Errorf("%w: %v", domain.ErrScannerOutputMalformed, err)
	}

	span.SetAttributes(attribute.Int("findings_count", len(results)))
	span.SetStatus(codes.Ok, "scan completed")
	return toDomainFindings(results), nil
}

func (s *CLI) args(inputPath, reportPath string) []string {
	args := []string{
		"detect",
		"--no-git",
		"--no-banner",
		"--log-level", "error",
		"--source", inputPath,
		"--report-format", "json",
		"--report-path", reportPath,
		"--exit-code", strconv.Itoa(s.cfg.FindingsExitCode),
	}
	if s.cfg.ConfigPath != "" {
		args = append(args, "--config", s.cfg.ConfigPath)
	}
	return args
}
