// Package scanner provides the secret detection engines used to scan pushed
// file content. CLI runs the gitleaks binary out of process; Gitleaks embeds
// the detector with the default rule set.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

var _ domain.FindingScanner = (*Gitleaks)(nil)

// Gitleaks scans content in process with the gitleaks detection engine.
type Gitleaks struct {
	// mu serializes detection; the detector keeps per-scan state.
	mu       sync.Mutex
	detector *detect.Detector

	logger *logger.Logger
	tracer trace.Tracer
}

// NewGitleaks creates an embedded scanner. An empty configPath loads the
// default rule set shipped with gitleaks.
func NewGitleaks(configPath string, log *logger.Logger, tracer trace.Tracer) (*Gitleaks, error) {
	detector, err := setupGitleaksDetector(configPath)
	if err != nil {
		return nil, err
	}

	return &Gitleaks{
		detector: detector,
		logger:   log.With("component", "gitleaks_scanner"),
		tracer:   tracer,
	}, nil
}

// setupGitleaksDetector builds a detector from the rule file at path, or from
// the embedded default configuration when path is empty.
func setupGitleaksDetector(path string) (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path == "" {
		if err := v.ReadConfig(bytes.NewBufferString(config.DefaultConfig)); err != nil {
			return nil, fmt.Errorf("failed to read embedded config: %w", err)
		}
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read gitleaks config %s: %w", path, err)
		}
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate ViperConfig to Config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// RuleCount returns the number of loaded detection rules.
func (s *Gitleaks) RuleCount() int { return len(s.detector.Config.Rules) }

// Scan runs the detector over content.
func (s *Gitleaks) Scan(ctx context.Context, content []byte) ([]domain.Finding, error) {
	_, span := s.tracer.Start(ctx, "gitleaks_scanner.scan",
		trace.WithAttributes(
			attribute.Int("content_size", len(content)),
			attribute.Int("num_rules", len(s.detector.Config.Rules)),
		))
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context cancelled")
		return nil, err
	}

	s.mu.Lock()
	results := s.detector.DetectBytes(content)
	s.mu.Unlock()

	// The detector counts lines from 0; findings report them from 1 like the CLI.
	for i := range results {
		results[i].StartLine++
		results[i].EndLine++
	}

	span.SetAttributes(attribute.Int("findings_count", len(results)))
	span.SetStatus(codes.Ok, "scan completed")
	return toDomainFindings(results), nil
}
