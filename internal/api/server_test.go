package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	appjobs "github.com/ahrav/pushwatch/internal/app/jobs"
	"github.com/ahrav/pushwatch/internal/app/secretscanning"
	"github.com/ahrav/pushwatch/internal/domain/jobs"
	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	queuememory "github.com/ahrav/pushwatch/internal/infra/queue/memory"
	jobsmemory "github.com/ahrav/pushwatch/internal/infra/storage/jobs/memory"
	riskmemory "github.com/ahrav/pushwatch/internal/infra/storage/risk/memory"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const testSecret = "webhook-secret"

func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type testEnv struct {
	server *Server
	queue  *queuememory.Queue
	ledger *riskmemory.Ledger
	failed *jobsmemory.FailedJobStore
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestEnv(t *testing.T, readiness Pinger) *testEnv {
	t.Helper()

	tracer := noop.NewTracerProvider().Tracer("test")
	workerMetrics, err := appjobs.NewWorkerMetrics(noopmetric.NewMeterProvider())
	require.NoError(t, err)
	apiMetrics, err := NewAPIMetrics(noopmetric.NewMeterProvider())
	require.NoError(t, err)

	env := &testEnv{
		queue:  queuememory.NewQueue(16),
		ledger: riskmemory.NewLedger(),
		failed: jobsmemory.NewFailedJobStore(jobs.DefaultFailedRetention),
	}
	t.Cleanup(func() { _ = env.queue.Close() })

	env.server, err = NewServer(Config{
		Addr:           "127.0.0.1:0",
		WebhookSecret:  testSecret,
		Enqueuer:       appjobs.NewEnqueuer(env.queue, logger.Noop(), workerMetrics, tracer),
		Cleaner:        secretscanning.NewRiskCleanupService(env.ledger, logger.Noop(), tracer),
		FailedJobs:     env.failed,
		Readiness:      readiness,
		Logger:         logger.Noop(),
		Metrics:        apiMetrics,
		TracerProvider: noop.NewTracerProvider(),
	})
	require.NoError(t, err)
	return env
}

func (e *testEnv) deliver(t *testing.T, event string, payload any, signed bool) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, event)
	req.Header.Set(deliveryHeader, "delivery-1")
	if signed {
		req.Header.Set(signatureHeader, sign([]byte(testSecret), body))
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func pushPayload(ref string, commits int) map[string]any {
	cs := make([]map[string]any, 0, commits)
	for i := 0; i < commits; i++ {
		cs = append(cs, map[string]any{
			"id":       "c" + string(rune('1'+i)),
			"message":  "change",
			"author":   map[string]any{"name": "dev", "email": "dev@acme.io"},
			"added":    []string{"config.yaml"},
			"modified": []string{},
		})
	}
	return map[string]any{
		"ref": ref,
		"repository": map[string]any{
			"id":             42,
			"full_name":      "acme/api",
			"default_branch": "main",
			"owner":          map[string]any{"login": "acme"},
		},
		"installation": map[string]any{"id": 7},
		"pusher":       map[string]any{"name": "dev", "email": "dev@acme.io"},
		"commits":      cs,
	}
}

func withPusherEmail(payload map[string]any, email string) map[string]any {
	payload["pusher"] = map[string]any{"name": "dev", "email": email}
	return payload
}

func TestWebhookSignature(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.deliver(t, "push", pushPayload("refs/heads/main", 1), false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/github", bytes.NewReader(body))
	req.Header.Set(eventHeader, "push")
	req.Header.Set(signatureHeader, sign([]byte("other-secret"), body))
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, 0, env.queue.Len())
}

func TestWebhookPush(t *testing.T) {
	tests := []struct {
		name       string
		payload    map[string]any
		wantStatus int
		wantQueued int
	}{
		{name: "default branch", payload: pushPayload("refs/heads/main", 2), wantStatus: http.StatusAccepted, wantQueued: 1},
		{name: "other branch", payload: pushPayload("refs/heads/feature", 1), wantStatus: http.StatusAccepted},
		{name: "no commits", payload: pushPayload("refs/heads/main", 0), wantStatus: http.StatusAccepted},
		{name: "malformed pusher email", payload: withPusherEmail(pushPayload("refs/heads/main", 1), "dev at acme"), wantStatus: http.StatusAccepted, wantQueued: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.deliver(t, "push", tt.payload, true)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantQueued, env.queue.Len())
		})
	}
}

func TestWebhookPushEnqueuesEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.deliver(t, "push", pushPayload("refs/heads/main", 2), true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got domain.PushEvent
	err := env.queue.Consume(ctx, func(_ context.Context, job jobs.Job) error {
		assert.Equal(t, jobs.TypeSecretScanningPush, job.Type)
		require.NoError(t, job.Decode(&got))
		cancel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, "acme", got.OrganizationID)
	assert.Equal(t, int64(7), got.InstallationID)
	assert.Equal(t, int64(42), got.Repository.ID)
	assert.Equal(t, "acme/api", got.Repository.FullName)
	assert.Len(t, got.Commits, 2)
	assert.Equal(t, []string{"config.yaml"}, got.Commits[0].Added)
	assert.NotEmpty(t, got.Salt)
}

func seedRisk(ledger *riskmemory.Ledger, fp string, installationID, repoID int64) {
	ledger.Put(domain.SensitiveRisk{Risk: domain.Risk{
		Fingerprint:    fp,
		InstallationID: installationID,
		RepositoryID:   repoID,
		Status:         domain.RiskStatusUnresolved,
	}})
}

func TestWebhookInstallationDeleted(t *testing.T) {
	env := newTestEnv(t, nil)
	seedRisk(env.ledger, "a", 7, 1)
	seedRisk(env.ledger, "b", 7, 2)
	seedRisk(env.ledger, "c", 8, 3)

	rec := env.deliver(t, "installation", map[string]any{"action": "created", "installation": map[string]any{"id": 7}}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Len(t, env.ledger.All(), 3)

	rec = env.deliver(t, "installation", map[string]any{"action": "deleted", "installation": map[string]any{"id": 7}}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, env.ledger.All(), 1)
	assert.Equal(t, "c", env.ledger.All()[0].Fingerprint)
}

func TestWebhookRepositoriesRemoved(t *testing.T) {
	env := newTestEnv(t, nil)
	seedRisk(env.ledger, "a", 7, 1)
	seedRisk(env.ledger, "b", 7, 2)
	seedRisk(env.ledger, "c", 7, 3)

	rec := env.deliver(t, "installation_repositories", map[string]any{
		"action":       "removed",
		"installation": map[string]any{"id": 7},
		"repositories_removed": []map[string]any{
			{"id": 1, "full_name": "acme/one"},
			{"id": 3, "full_name": "acme/three"},
		},
	}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, env.ledger.All(), 1)
	assert.Equal(t, "b", env.ledger.All()[0].Fingerprint)
}

func TestWebhookUnknownEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.deliver(t, "ping", map[string]any{"zen": "Keep it logically awesome."}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListFailedJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	job, err := jobs.NewJob(jobs.TypeSecretScanningPush, map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, env.failed.Record(context.Background(), jobs.FailedJob{
		Job:      job,
		Error:    "boom",
		FailedAt: time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []failedJobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, job.ID, resp[0].ID)
	assert.Equal(t, "boom", resp[0].Error)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t, pingFunc(func(context.Context) error { return errors.New("db down") }))

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServerRequiresSecret(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestWebhookRepositoriesAddedEnqueuesReconcile(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload map[string]any
	}{
		{
			name:  "installation created",
			event: "installation",
			payload: map[string]any{
				"action":       "created",
				"installation": map[string]any{"id": 7},
				"repositories": []map[string]any{
					{"id": 1, "full_name": "acme/one"},
					{"id": 2, "full_name": "acme/two"},
				},
			},
		},
		{
			name:  "repositories added",
			event: "installation_repositories",
			payload: map[string]any{
				"action":       "added",
				"installation": map[string]any{"id": 7},
				"repositories_added": []map[string]any{
					{"id": 1, "full_name": "acme/one"},
					{"id": 2, "full_name": "acme/two"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.deliver(t, tt.event, tt.payload, true)
			require.Equal(t, http.StatusAccepted, rec.Code)
			require.Equal(t, 2, env.queue.Len())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var got []domain.ReconcileRequest
			err := env.queue.Consume(ctx, func(_ context.Context, job jobs.Job) error {
				assert.Equal(t, jobs.TypeSecretScanningReconcile, job.Type)
				var req domain.ReconcileRequest
				require.NoError(t, job.Decode(&req))
				got = append(got, req)
				if len(got) == 2 {
					cancel()
				}
				return nil
			})
			require.NoError(t, err)

			require.Len(t, got, 2)
			assert.Equal(t, int64(7), got[0].InstallationID)
			assert.Equal(t, "acme/one", got[0].Repository.FullName)
			assert.Equal(t, "acme/two", got[1].Repository.FullName)
		})
	}
}
