package valueobject

import (
	"testing"
)

func TestNewJobStatus_ValidStatuses(t *testing.T) {
	validStatuses := []struct {
		input    string
		expected JobStatus
	}{
		{"queued", JobStatusQueued},
		{"running", JobStatusRunning},
		{"completed", JobStatusCompleted},
		{"failed", JobStatusFailed},
		{"publishing", JobStatusPublishing},
		{"published", JobStatusPublished},
	}

	for _, tc := range validStatuses {
		t.Run(tc.input, func(t *testing.T) {
			status, err := NewJobStatus(tc.input)
			if err != nil {
				t.Fatalf("Expected no error for valid status %s, got: %v", tc.input, err)
			}

			if status != tc.expected {
				t.Errorf("Expected status %s, got %s", tc.expected, status)
			}
		})
	}
}

func TestNewJobStatus_InvalidStatuses(t *testing.T) {
	invalidStatuses := []string{
		"invalid",
		"QUEUED",    // case sensitive
		"Completed", // case sensitive
		"",          // empty string
		" queued",   // leading space
		"queued ",   // trailing space
		"pending",
		"cancelled",
		"paused",
	}

	for _, status := range invalidStatuses {
		t.Run(status, func(t *testing.T) {
			_, err := NewJobStatus(status)
			if err == nil {
				t.Fatalf("Expected error for invalid status %s, got none", status)
			}

			expectedError := "invalid job status: " + status
			if err.Error() != expectedError {
				t.Errorf("Expected error '%s', got '%v'", expectedError, err)
			}
		})
	}
}

func TestJobStatus_CanTransitionTo(t *testing.T) {
	allowed := []struct {
		from JobStatus
		to   JobStatus
	}{
		{JobStatusQueued, JobStatusRunning},
		{JobStatusRunning, JobStatusRunning}, // transient batch failure
		{JobStatusRunning, JobStatusCompleted},
		{JobStatusRunning, JobStatusFailed},
		{JobStatusRunning, JobStatusQueued}, // stuck-job requeue
		{JobStatusCompleted, JobStatusPublishing},
		{JobStatusFailed, JobStatusQueued}, // restart
		{JobStatusPublishing, JobStatusPublished},
		{JobStatusPublishing, JobStatusCompleted}, // nothing published
		{JobStatusPublished, JobStatusPublishing}, // republish
	}

	for _, tc := range allowed {
		t.Run(tc.from.String()+"_to_"+tc.to.String(), func(t *testing.T) {
			if !tc.from.CanTransitionTo(tc.to) {
				t.Errorf("Expected transition %s -> %s to be allowed", tc.from, tc.to)
			}
		})
	}

	denied := []struct {
		from JobStatus
		to   JobStatus
	}{
		{JobStatusQueued, JobStatusCompleted},
		{JobStatusQueued, JobStatusFailed},
		{JobStatusQueued, JobStatusPublished},
		{JobStatusCompleted, JobStatusRunning},
		{JobStatusCompleted, JobStatusFailed},
		{JobStatusFailed, JobStatusRunning},
		{JobStatusFailed, JobStatusCompleted},
		{JobStatusPublished, JobStatusRunning},
		{JobStatusPublished, JobStatusQueued},
		{JobStatusPublishing, JobStatusRunning},
	}

	for _, tc := range denied {
		t.Run(tc.from.String()+"_never_"+tc.to.String(), func(t *testing.T) {
			if tc.from.CanTransitionTo(tc.to) {
				t.Errorf("Expected transition %s -> %s to be rejected", tc.from, tc.to)
			}
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	if !JobStatusPublished.IsTerminal() {
		t.Error("Expected published to be terminal")
	}

	nonTerminal := []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed, // resumable via restart
		JobStatusPublishing,
	}

	for _, status := range nonTerminal {
		if status.IsTerminal() {
			t.Errorf("Expected %s to be non-terminal", status)
		}
	}
}

func TestAllJobStatuses(t *testing.T) {
	statuses := AllJobStatuses()
	if len(statuses) != 6 {
		t.Errorf("Expected 6 job statuses, got %d", len(statuses))
	}
}
