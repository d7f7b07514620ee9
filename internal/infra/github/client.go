// Package github implements the content fetcher over the GitHub REST contents
// API.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common"
	"github.com/ahrav/pushwatch/pkg/common/logger"
	"github.com/ahrav/pushwatch/pkg/common/otel"
)

var _ domain.ContentFetcher = (*Client)(nil)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com"

// rawMediaType asks the contents API for the file body instead of the base64
// JSON envelope.
const rawMediaType = "application/vnd.github.raw+json"

// Config holds the settings of the GitHub client.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds a single HTTP attempt.
	Timeout    time.Duration
	RetryMax   int
	RateLimit  float64
	RateBurst  int
	HTTPClient *http.Client
}

// Client fetches file content from repositories through the REST contents API.
// Requests are rate limited locally and the limiter follows GitHub's
// X-RateLimit headers.
type Client struct {
	baseURL     string
	httpClient  *retryablehttp.Client
	rateLimiter *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a client. An empty token issues unauthenticated requests.
func NewClient(cfg Config, log *logger.Logger, tracer trace.Tracer) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	// GitHub's default rate limit is 5000 requests per hour.
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1.25
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	transport := otel.Transport(base.Transport)
	if cfg.Token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}),
			Base:   transport,
		}
	}

	log = log.With("component", "github_content_client")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: base.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = leveledLogger{log: log}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  rc,
		rateLimiter: common.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:      log,
		tracer:      tracer,
	}
}

// GetFileContent returns the raw bytes of ref.Path. A missing file yields
// domain.ErrFileNotFound.
func (c *Client) GetFileContent(ctx context.Context, ref domain.FileRef) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "github_content_client.get_file_content",
		trace.WithAttributes(
			attribute.String("owner", ref.Owner),
			attribute.String("repo", ref.Repo),
			attribute.String("path", ref.Path),
			attribute.String("ref", ref.Ref),
			attribute.Int64("installation_id", ref.InstallationID),
		))
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter wait failed")
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.contentsURL(ref), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create request")
		return nil, fmt.Errorf("failed to create contents request: %w", err)
	}
	req.Header.Set("Accept", rawMediaType)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("contents request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))
	c.updateRateLimits(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		span.AddEvent("file_not_found")
		return nil, fmt.Errorf("%s/%s:%s: %w", ref.Owner, ref.Repo, ref.Path, domain.ErrFileNotFound)
	case resp.StatusCode != http.StatusOK:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		err := fmt.Errorf("non-200 response from GitHub contents API (status: %d): %s", resp.StatusCode, string(data))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-200 response")
		return nil, err
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read body")
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	span.SetAttributes(attribute.Int("content_size", len(content)))
	span.SetStatus(codes.Ok, "file content fetched")

	return content, nil
}

func (c *Client) contentsURL(ref domain.FileRef) string {
	segments := strings.Split(strings.TrimPrefix(ref.Path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		c.baseURL, url.PathEscape(ref.Owner), url.PathEscape(ref.Repo), strings.Join(segments, "/"))
	if ref.Ref != "" {
		u += "?ref=" + url.QueryEscape(ref.Ref)
	}
	return u
}

// updateRateLimits retunes the limiter from the X-RateLimit headers.
func (c *Client) updateRateLimits(headers http.Header) {
	remaining, err := strconv.ParseInt(headers.Get("X-RateLimit-Remaining"), 10, 64)
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	c.rateLimiter.AdaptToQuota(remaining, time.Unix(reset, 0), time.Now())
}

// leveledLogger adapts the service logger to retryablehttp.LeveledLogger.
type leveledLogger struct{ log *logger.Logger }

func (l leveledLogger) Error(msg string, kv ...any) { l.log.Error(context.Background(), msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.log.Debug(context.Background(), msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.log.Warn(context.Background(), msg, kv...) }

