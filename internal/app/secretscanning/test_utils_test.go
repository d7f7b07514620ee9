package secretscanning

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/internal/infra/crypto"
	fetchermem "github.com/ahrav/pushwatch/internal/infra/github/memory"
	"github.com/ahrav/pushwatch/internal/infra/storage"
	riskmem "github.com/ahrav/pushwatch/internal/infra/storage/risk/memory"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const (
	testRepoID         = int64(42)
	testRepoFullName   = "acme/payments"
	testInstallationID = int64(7)
	testOrg            = "acme"
)

// lineScanner reports every line starting with "AKIA" as an aws-access-token
// finding, and lines of the form "token=<value>" as generic-api-key.
type lineScanner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *lineScanner) Scan(_ context.Context, content []byte) ([]domain.Finding, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var findings []domain.Finding
	sc := bufio.NewScanner(bytes.NewReader(content))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(text, "AKIA"):
			findings = append(findings, domain.Finding{
				RuleID: "aws-access-token", Secret: text, Match: text,
				StartLine: line, EndLine: line, EndColumn: len(text),
			})
		case strings.HasPrefix(text, "token="):
			secret := strings.TrimPrefix(text, "token=")
			findings = append(findings, domain.Finding{
				RuleID: "generic-api-key", Secret: secret, Match: text,
				StartLine: line, EndLine: line, EndColumn: len(text),
			})
		}
	}
	return findings, nil
}

func (s *lineScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) Send(ctx context.Context, mail domain.Mail) error {
	args := m.Called(ctx, mail)
	return args.Error(0)
}

type mockTelemetrySink struct{ mock.Mock }

func (m *mockTelemetrySink) Capture(ctx context.Context, event domain.TelemetryEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockDirectory struct{ mock.Mock }

func (m *mockDirectory) ListAdminsAndOwners(ctx context.Context, organizationID string) ([]domain.User, error) {
	args := m.Called(ctx, organizationID)
	if users := args.Get(0); users != nil {
		return users.([]domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDirectory) GetEmails(ctx context.Context, userIDs []string) ([]string, error) {
	args := m.Called(ctx, userIDs)
	if emails := args.Get(0); emails != nil {
		return emails.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestProcessingMetrics(t *testing.T) ProcessingMetrics {
	t.Helper()
	m, err := NewProcessingMetrics(noopmetric.NewMeterProvider())
	require.NoError(t, err)
	return m
}

func newTestEncryptor(t *testing.T) *crypto.AESGCM {
	t.Helper()
	enc, err := crypto.NewAESGCM(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return enc
}

// processorSuite wires a processor over in-memory collaborators.
type processorSuite struct {
	fetcher    *fetchermem.Fetcher
	ledger     *riskmem.Ledger
	scanner    *lineScanner
	encryptor  *crypto.AESGCM
	reconciler *IgnoreFileReconciler
	processor  *PushEventProcessor
}

func newProcessorSuite(t *testing.T, opts ...ProcessorOption) *processorSuite {
	t.Helper()

	s := &processorSuite{
		fetcher:   fetchermem.NewFetcher(),
		ledger:    riskmem.NewLedger(),
		scanner:   &lineScanner{},
		encryptor: newTestEncryptor(t),
	}
	tracer := storage.NoOpTracer()
	s.reconciler = NewIgnoreFileReconciler(s.fetcher, s.ledger, "", logger.Noop(), tracer)
	s.processor = NewPushEventProcessor(
		s.fetcher,
		s.scanner,
		s.ledger,
		s.reconciler,
		s.encryptor,
		logger.Noop(),
		newTestProcessingMetrics(t),
		tracer,
		opts...,
	)
	return s
}

// put registers content for path at commit in the test repository.
func (s *processorSuite) put(commit, path, content string) {
	s.fetcher.Put("acme", "payments", path, commit, []byte(content))
}

// putSuppression registers the repository's suppression file.
func (s *processorSuite) putSuppression(content string) {
	s.fetcher.Put("acme", "payments", domain.DefaultSuppressionFile, "", []byte(content))
}

func testPushEvent(commits ...domain.Commit) domain.PushEvent {
	return domain.PushEvent{
		OrganizationID: testOrg,
		InstallationID: testInstallationID,
		Repository:     domain.Repository{ID: testRepoID, FullName: testRepoFullName},
		Commits:        commits,
		Pusher:         domain.Pusher{Name: "octocat", Email: "octocat@acme.io"},
		Salt:           "salt",
	}
}

func testCommit(id string, added ...string) domain.Commit {
	return domain.Commit{
		ID:      id,
		Message: "commit " + id,
		Author:  domain.CommitAuthor{Name: "Octo Cat", Email: "octocat@acme.io"},
		Added:   added,
	}
}

// padLines returns content whose line n holds text.
func padLines(n int, text string) string {
	return strings.Repeat("// filler\n", n-1) + text + "\n"
}
