package jobs

import "fmt"

// Status is a job's position in its delivery lifecycle.
type Status string

const (
	// StatusEnqueued indicates the job waits in the queue.
	StatusEnqueued Status = "ENQUEUED"
	// StatusProcessing indicates a worker is running the job.
	StatusProcessing Status = "PROCESSING"
	// StatusRetrying indicates a failed attempt was rescheduled.
	StatusRetrying Status = "RETRYING"
	// StatusCompleted indicates the job succeeded. Completed jobs are discarded.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the retry budget is exhausted.
	StatusFailed Status = "FAILED"
)

func (s Status) String() string { return string(s) }

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid job status transition from %s to %s", s, target)
	}
	return nil
}

func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusEnqueued, StatusRetrying:
		return target == StatusProcessing
	case StatusProcessing:
		return target == StatusCompleted || target == StatusRetrying || target == StatusFailed
	case StatusCompleted, StatusFailed:
		// Terminal states.
		return false
	default:
		return false
	}
}
