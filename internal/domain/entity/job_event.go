package entity

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a point in a job's lifecycle.
type EventType string

// Job event types. Events are write-once: the table is the job's audit trail.
const (
	EventTypeQueued      EventType = "queued"
	EventTypeStarted     EventType = "started"
	EventTypeBatchDone   EventType = "batch_done"
	EventTypeBatchFailed EventType = "batch_failed"
	EventTypeCompleted   EventType = "completed"
	EventTypeFailed      EventType = "failed"
	EventTypePublished   EventType = "published"
)

// JobEvent is one append-only audit record for a job.
type JobEvent struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Type      EventType
	Payload   map[string]any
	CreatedAt time.Time
}

// NewJobEvent creates an audit event for a job.
func NewJobEvent(jobID uuid.UUID, eventType EventType, payload map[string]any) *JobEvent {
	return &JobEvent{
		ID:        uuid.New(),
		JobID:     jobID,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
