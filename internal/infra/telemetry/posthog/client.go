// Package posthog sends product analytics events to a PostHog capture
// endpoint.
package posthog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/logger"
	"github.com/ahrav/pushwatch/pkg/common/otel"
)

var _ domain.TelemetrySink = (*Client)(nil)

// DefaultHost is PostHog's US cloud ingestion host.
const DefaultHost = "https://us.i.posthog.com"

// Config holds the PostHog project settings.
type Config struct {
	Host     string
	APIKey   string
	Timeout  time.Duration
	RetryMax int
}

// Client captures events through the PostHog HTTP API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *retryablehttp.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a capture client.
func NewClient(cfg Config, log *logger.Logger, tracer trace.Tracer) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: otel.Transport(nil), Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.Logger = nil

	return &Client{
		endpoint:   strings.TrimRight(cfg.Host, "/") + "/capture/",
		apiKey:     cfg.APIKey,
		httpClient: rc,
		logger:     log.With("component", "posthog_client"),
		tracer:     tracer,
	}
}

type capturePayload struct {
	APIKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	UUID       string         `json:"uuid"`
}

// Capture sends ev. Each call carries a fresh uuid so PostHog can drop
// duplicates created by transport retries.
func (c *Client) Capture(ctx context.Context, ev domain.TelemetryEvent) error {
	ctx, span := c.tracer.Start(ctx, "posthog_client.capture",
		trace.WithAttributes(attribute.String("event", ev.Event)))
	defer span.End()

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	body, err := json.Marshal(capturePayload{
		APIKey:     c.apiKey,
		Event:      ev.Event,
		DistinctID: ev.DistinctID,
		Properties: ev.Properties,
		Timestamp:  ts,
		UUID:       uuid.New().String(),
	})
	if err != nil {
		return otel.FailSpan(span, fmt.Errorf("failed to marshal telemetry event: %w", err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return otel.FailSpan(span, fmt.Errorf("failed to create capture request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return otel.FailSpan(span, fmt.Errorf("capture request failed: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	if resp.StatusCode/100 != 2 {
		return otel.FailSpan(span, fmt.Errorf("capture rejected with status %d", resp.StatusCode))
	}

	c.logger.Debug(ctx, "Telemetry event captured", "event", ev.Event)
	return nil
}
