// Package jobs provides the domain types for durable background jobs: the job
// envelope, its lifecycle, the retry policy and the queue ports.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names the handler a job is routed to.
type Type string

const (
	// TypeSecretScanningPush is a push event awaiting a secret scan.
	TypeSecretScanningPush Type = "secret-scanning.push"
	// TypeSecretScanningReconcile is a full suppression-file sweep of a
	// newly installed repository.
	TypeSecretScanningReconcile Type = "secret-scanning.reconcile"
)

// Job is a unit of work carried by the queue. Payload is the handler-specific
// JSON document; the job itself holds only delivery metadata.
type Job struct {
	ID      uuid.UUID       `json:"id"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`

	// Attempt is 1 for the first delivery and increments on every retry.
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
	AvailableAt time.Time `json:"availableAt"`
}

// NewJob wraps payload into a first-attempt job available immediately.
func NewJob(typ Type, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	now := time.Now().UTC()
	return Job{
		ID:          uuid.New(),
		Type:        typ,
		Payload:     raw,
		Attempt:     1,
		EnqueuedAt:  now,
		AvailableAt: now,
	}, nil
}

// Retry returns the next attempt of j, available after delay.
func (j Job) Retry(delay time.Duration) Job {
	next := j
	next.Attempt++
	next.AvailableAt = time.Now().UTC().Add(delay)
	return next
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload for job %s: %w", j.Type, j.ID, err)
	}
	return nil
}

// FailedJob is a job that exhausted its retry budget.
type FailedJob struct {
	Job      Job
	Error    string
	FailedAt time.Time
}
