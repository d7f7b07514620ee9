package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/ahrav/pushwatch/internal/domain/secretscanning"
	"github.com/ahrav/pushwatch/pkg/common/otel"
)

// maxWebhookBody matches GitHub's 25 MB payload cap.
const maxWebhookBody = 25 << 20

const (
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
	signatureHeader = "X-Hub-Signature-256"
)

// Webhook outcomes reported in metrics.
const (
	outcomeEnqueued = "enqueued"
	outcomeIgnored  = "ignored"
	outcomeDeleted  = "deleted"
	outcomeFailed   = "failed"
)

type ghAccount struct {
	Login string `json:"login"`
}

type ghRepository struct {
	ID            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	DefaultBranch string    `json:"default_branch"`
	Owner         ghAccount `json:"owner"`
}

type ghInstallation struct {
	ID int64 `json:"id"`
}

type ghPushPayload struct {
	Ref          string         `json:"ref"`
	Deleted      bool           `json:"deleted"`
	Repository   ghRepository   `json:"repository"`
	Installation ghInstallation `json:"installation"`
	Pusher       struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"pusher"`
	Commits []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
		Author  struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
	} `json:"commits"`
}

type ghInstallationPayload struct {
	Action       string         `json:"action"`
	Installation ghInstallation `json:"installation"`
	Repositories []ghRepository `json:"repositories"`
}

type ghInstallationReposPayload struct {
	Action              string         `json:"action"`
	Installation        ghInstallation `json:"installation"`
	RepositoriesAdded   []ghRepository `json:"repositories_added"`
	RepositoriesRemoved []ghRepository `json:"repositories_removed"`
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get(eventHeader)
	ctx, span := otel.AddSpan(r.Context(), s.tracer, "webhook_server.github",
		attribute.String("event", event),
		attribute.String("delivery", r.Header.Get(deliveryHeader)),
	)
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	if err := verifySignature([]byte(s.cfg.WebhookSecret), r.Header.Get(signatureHeader), body); err != nil {
		s.cfg.Metrics.IncSignatureFailures(ctx)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn(ctx, "Rejected webhook delivery", "event", event, "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var (
		status  int
		outcome string
	)
	switch event {
	case "push":
		status, outcome = s.handlePush(ctx, body)
	case "installation":
		status, outcome = s.handleInstallation(ctx, body)
	case "installation_repositories":
		status, outcome = s.handleInstallationRepositories(ctx, body)
	default:
		status, outcome = http.StatusNoContent, outcomeIgnored
	}

	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("status", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, outcome)
	}
	s.cfg.Metrics.IncWebhookEvents(ctx, event, outcome)
	w.WriteHeader(status)
}

func (s *Server) handlePush(ctx context.Context, body []byte) (int, string) {
	var p ghPushPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn(ctx, "Malformed push payload", "error", err)
		return http.StatusBadRequest, outcomeFailed
	}

	if p.Deleted || len(p.Commits) == 0 || p.Ref != "refs/heads/"+p.Repository.DefaultBranch {
		s.logger.Debug(ctx, "Ignoring push",
			"repository", p.Repository.FullName,
			"ref", p.Ref,
			"commits", len(p.Commits),
		)
		return http.StatusAccepted, outcomeIgnored
	}

	ev := toPushEvent(p)
	jobID, err := s.cfg.Enqueuer.EnqueuePushEvent(ctx, ev)
	switch {
	case errors.Is(err, domain.ErrInvalidPushEvent):
		s.logger.Warn(ctx, "Rejected push event", "repository", p.Repository.FullName, "error", err)
		return http.StatusUnprocessableEntity, outcomeFailed
	case err != nil:
		s.logger.Error(ctx, "Failed to enqueue push event", "repository", p.Repository.FullName, "error", err)
		return http.StatusInternalServerError, outcomeFailed
	}

	s.logger.Info(ctx, "Push enqueued for scanning",
		"repository", ev.Repository.FullName,
		"job_id", jobID.String(),
		"commits", len(ev.Commits),
	)
	return http.StatusAccepted, outcomeEnqueued
}

// toPushEvent maps the GitHub payload. The organization is the repository
// owner's login.
func toPushEvent(p ghPushPayload) domain.PushEvent {
	ev := domain.PushEvent{
		OrganizationID: p.Repository.Owner.Login,
		InstallationID: p.Installation.ID,
		Repository: domain.Repository{
			ID:       p.Repository.ID,
			FullName: p.Repository.FullName,
		},
		Pusher: domain.Pusher{
			Name:  p.Pusher.Name,
			Email: p.Pusher.Email,
		},
		Commits: make([]domain.Commit, 0, len(p.Commits)),
	}
	if ev.OrganizationID == "" {
		ev.OrganizationID, _, _ = strings.Cut(p.Repository.FullName, "/")
	}

	for _, c := range p.Commits {
		ev.Commits = append(ev.Commits, domain.Commit{
			ID:      c.ID,
			Message: c.Message,
			Author: domain.CommitAuthor{
				Name:  c.Author.Name,
				Email: c.Author.Email,
			},
			Added:    c.Added,
			Modified: c.Modified,
		})
	}
	return ev
}

func (s *Server) handleInstallation(ctx context.Context, body []byte) (int, string) {
	var p ghInstallationPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn(ctx, "Malformed installation payload", "error", err)
		return http.StatusBadRequest, outcomeFailed
	}
	switch p.Action {
	case "created":
		return s.enqueueReconciles(ctx, p.Installation.ID, p.Repositories)
	case "deleted":
		if _, err := s.cfg.Cleaner.DeleteRisksForInstallation(ctx, p.Installation.ID); err != nil {
			s.logger.Error(ctx, "Failed to delete installation risks",
				"installation_id", p.Installation.ID, "error", err)
			return http.StatusInternalServerError, outcomeFailed
		}
		return http.StatusNoContent, outcomeDeleted
	default:
		return http.StatusNoContent, outcomeIgnored
	}
}

func (s *Server) handleInstallationRepositories(ctx context.Context, body []byte) (int, string) {
	var p ghInstallationReposPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.logger.Warn(ctx, "Malformed installation_repositories payload", "error", err)
		return http.StatusBadRequest, outcomeFailed
	}
	switch p.Action {
	case "added":
		return s.enqueueReconciles(ctx, p.Installation.ID, p.RepositoriesAdded)
	case "removed":
		return s.deleteRepositoryRisks(ctx, p.RepositoriesRemoved)
	default:
		return http.StatusNoContent, outcomeIgnored
	}
}

func (s *Server) deleteRepositoryRisks(ctx context.Context, repos []ghRepository) (int, string) {
	for _, repo := range repos {
		if _, err := s.cfg.Cleaner.DeleteRisksForRepository(ctx, repo.ID); err != nil {
			s.logger.Error(ctx, "Failed to delete repository risks",
				"repository_id", repo.ID, "repository", repo.FullName, "error", err)
			return http.StatusInternalServerError, outcomeFailed
		}
	}
	return http.StatusNoContent, outcomeDeleted
}

// enqueueReconciles queues a suppression-file sweep for every repository.
func (s *Server) enqueueReconciles(ctx context.Context, installationID int64, repos []ghRepository) (int, string) {
	if len(repos) == 0 {
		return http.StatusNoContent, outcomeIgnored
	}

	for _, repo := range repos {
		_, err := s.cfg.Enqueuer.EnqueueRepositoryReconcile(ctx, installationID, domain.Repository{
			ID:       repo.ID,
			FullName: repo.FullName,
		})
		if err != nil {
			s.logger.Error(ctx, "Failed to enqueue repository reconcile",
				"installation_id", installationID, "repository", repo.FullName, "error", err)
			if errors.Is(err, domain.ErrInvalidPushEvent) {
				return http.StatusUnprocessableEntity, outcomeFailed
			}
			return http.StatusInternalServerError, outcomeFailed
		}
	}
	return http.StatusAccepted, outcomeEnqueued
}
