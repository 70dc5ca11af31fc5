package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrBrokerUnavailable signals that the queue broker cannot be reached.
// Callers treat it as a fallback trigger, never as a user-facing failure.
var ErrBrokerUnavailable = errors.New("queue broker unavailable")

// JobMessage is the envelope placed on the generation queue.
type JobMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressEvent is broadcast after every batch, best-effort.
type ProgressEvent struct {
	JobID           uuid.UUID `json:"job_id"`
	Status          string    `json:"status"`
	ProgressPercent int       `json:"progress_percent"`
	GeneratedCount  int       `json:"generated_count"`
	PassedCount     int       `json:"passed_count"`
	FailedCount     int       `json:"failed_count"`
	NewItems        int       `json:"new_items,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// JobQueue abstracts the message broker. Implementations degrade to
// ErrBrokerUnavailable instead of failing callers, and progress publishing
// never blocks on subscriber presence.
type JobQueue interface {
	// EnqueueJob places a job id on the generation queue for exactly-one
	// consumer delivery.
	EnqueueJob(ctx context.Context, jobID uuid.UUID) error

	// PublishProgress broadcasts a progress event. Errors are swallowed and
	// logged by the implementation; the returned error is always nil unless
	// the event itself is malformed.
	PublishProgress(ctx context.Context, event ProgressEvent) error

	// Available reports whether the broker is currently reachable.
	Available(ctx context.Context) bool
}
