package jobs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 5*time.Second, p.Delay(1))
	assert.Equal(t, 10*time.Second, p.Delay(2))
	assert.Equal(t, 20*time.Second, p.Delay(3))
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.True(t, p.ShouldRetry(1))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestJobRetry(t *testing.T) {
	job, err := NewJob(TypeSecretScanningPush, map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Attempt)

	next := job.Retry(5 * time.Second)
	assert.Equal(t, job.ID, next.ID)
	assert.Equal(t, 2, next.Attempt)
	assert.True(t, next.AvailableAt.After(job.AvailableAt))

	var payload map[string]string
	require.NoError(t, next.Decode(&payload))
	assert.Equal(t, "v", payload["k"])
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		valid    bool
	}{
		{StatusEnqueued, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusRetrying, true},
		{StatusRetrying, StatusProcessing, true},
		{StatusProcessing, StatusFailed, true},
		{StatusEnqueued, StatusCompleted, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusRetrying, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNonRetryable(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))

	cause := errors.New("bad payload")
	err := NonRetryable(cause)
	assert.ErrorIs(t, err, ErrNonRetryable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad payload", err.Error())
	assert.NotErrorIs(t, cause, ErrNonRetryable)
}
