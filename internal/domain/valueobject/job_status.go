package valueobject

import "fmt"

// JobStatus represents the current status of a generation job.
type JobStatus string

// Job status constants.
const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPublishing JobStatus = "publishing"
	JobStatusPublished  JobStatus = "published"
)

// validJobStatuses contains all valid job statuses.
var validJobStatuses = map[JobStatus]bool{
	JobStatusQueued:     true,
	JobStatusRunning:    true,
	JobStatusCompleted:  true,
	JobStatusFailed:     true,
	JobStatusPublishing: true,
	JobStatusPublished:  true,
}

// NewJobStatus creates a new JobStatus with validation.
func NewJobStatus(status string) (JobStatus, error) {
	s := JobStatus(status)
	if !validJobStatuses[s] {
		return "", fmt.Errorf("invalid job status: %s", status)
	}
	return s, nil
}

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
// failed is only terminal until an explicit restart resets it to queued, so
// published is the sole status with no path back into the batch loop.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusPublished
}

// CanTransitionTo returns true if the status can transition to the target status.
//
// running may re-enter itself so transient batch failures can bump the retry
// count without changing the job's observable state. failed and stuck running
// jobs may be reset to queued by a restart. publishing falls back to completed
// when no item has ever been published.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	transitions := map[JobStatus][]JobStatus{
		JobStatusQueued: {
			JobStatusRunning,
		},
		JobStatusRunning: {
			JobStatusRunning,
			JobStatusCompleted,
			JobStatusFailed,
			JobStatusQueued,
		},
		JobStatusCompleted: {
			JobStatusPublishing,
		},
		JobStatusFailed: {
			JobStatusQueued,
		},
		JobStatusPublishing: {
			JobStatusPublished,
			JobStatusCompleted,
		},
		JobStatusPublished: {
			JobStatusPublishing,
		},
	}

	validTransitions, exists := transitions[s]
	if !exists {
		return false
	}

	for _, validTarget := range validTransitions {
		if target == validTarget {
			return true
		}
	}
	return false
}

// AllJobStatuses returns all valid job statuses.
func AllJobStatuses() []JobStatus {
	statuses := make([]JobStatus, 0, len(validJobStatuses))
	for status := range validJobStatuses {
		statuses = append(statuses, status)
	}
	return statuses
}
