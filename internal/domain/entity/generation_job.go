package entity

import (
	"time"

	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
)

// JobError captures the structured error recorded on a failed job.
type JobError struct {
	Message      string `json:"message"`
	TraceSummary string `json:"trace_summary,omitempty"`
}

// GenerationJob represents one "produce N validated content items" request
// and its execution state. Jobs are append-only from the outside: they are
// never deleted, and every status change is mirrored by a JobEvent.
type GenerationJob struct {
	id             uuid.UUID
	status         valueobject.JobStatus
	requestedCount int
	generatedCount int
	passedCount    int
	failedCount    int
	tokenUsage     valueobject.TokenUsage
	cost           valueobject.CostBreakdown
	retryCount     int
	jobError       *JobError
	requestPayload map[string]any
	createdAt      time.Time
	updatedAt      time.Time
	startedAt      *time.Time
	completedAt    *time.Time
	publishedAt    *time.Time
}

// NewGenerationJob creates a new GenerationJob entity in queued status.
func NewGenerationJob(requestedCount int, requestPayload map[string]any) (*GenerationJob, error) {
	if requestedCount < 1 {
		return nil, NewDomainError("requested count must be at least 1", "INVALID_REQUESTED_COUNT")
	}

	now := time.Now()
	return &GenerationJob{
		id:             uuid.New(),
		status:         valueobject.JobStatusQueued,
		requestedCount: requestedCount,
		requestPayload: requestPayload,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// RestoreGenerationJob creates a GenerationJob entity from stored data.
func RestoreGenerationJob(
	id uuid.UUID,
	status valueobject.JobStatus,
	requestedCount int,
	generatedCount int,
	passedCount int,
	failedCount int,
	tokenUsage valueobject.TokenUsage,
	cost valueobject.CostBreakdown,
	retryCount int,
	jobError *JobError,
	requestPayload map[string]any,
	createdAt time.Time,
	updatedAt time.Time,
	startedAt *time.Time,
	completedAt *time.Time,
	publishedAt *time.Time,
) *GenerationJob {
	return &GenerationJob{
		id:             id,
		status:         status,
		requestedCount: requestedCount,
		generatedCount: generatedCount,
		passedCount:    passedCount,
		failedCount:    failedCount,
		tokenUsage:     tokenUsage,
		cost:           cost,
		retryCount:     retryCount,
		jobError:       jobError,
		requestPayload: requestPayload,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
		startedAt:      startedAt,
		completedAt:    completedAt,
		publishedAt:    publishedAt,
	}
}

// ID returns the job ID.
func (j *GenerationJob) ID() uuid.UUID {
	return j.id
}

// Status returns the current job status.
func (j *GenerationJob) Status() valueobject.JobStatus {
	return j.status
}

// RequestedCount returns the number of items the job was asked to produce.
func (j *GenerationJob) RequestedCount() int {
	return j.requestedCount
}

// GeneratedCount returns the number of items counted toward completion.
func (j *GenerationJob) GeneratedCount() int {
	return j.generatedCount
}

// PassedCount returns the number of generated items that passed QC.
func (j *GenerationJob) PassedCount() int {
	return j.passedCount
}

// FailedCount returns the number of generated items that failed QC.
func (j *GenerationJob) FailedCount() int {
	return j.failedCount
}

// TokenUsage returns the accumulated token usage.
func (j *GenerationJob) TokenUsage() valueobject.TokenUsage {
	return j.tokenUsage
}

// Cost returns the accumulated cost breakdown.
func (j *GenerationJob) Cost() valueobject.CostBreakdown {
	return j.cost
}

// RetryCount returns the number of recorded transient batch failures.
func (j *GenerationJob) RetryCount() int {
	return j.retryCount
}

// Error returns the structured error if the job failed.
func (j *GenerationJob) Error() *JobError {
	return j.jobError
}

// RequestPayload returns the opaque generation parameters captured at creation.
func (j *GenerationJob) RequestPayload() map[string]any {
	return j.requestPayload
}

// CreatedAt returns the creation timestamp.
func (j *GenerationJob) CreatedAt() time.Time {
	return j.createdAt
}

// UpdatedAt returns the last update timestamp.
func (j *GenerationJob) UpdatedAt() time.Time {
	return j.updatedAt
}

// StartedAt returns the job start timestamp.
func (j *GenerationJob) StartedAt() *time.Time {
	return j.startedAt
}

// CompletedAt returns the job completion timestamp.
func (j *GenerationJob) CompletedAt() *time.Time {
	return j.completedAt
}

// PublishedAt returns the timestamp of the first successful publish.
func (j *GenerationJob) PublishedAt() *time.Time {
	return j.publishedAt
}

// Remaining returns how many items are still needed to satisfy the request.
func (j *GenerationJob) Remaining() int {
	remaining := j.requestedCount - j.generatedCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ProgressPercent returns completion progress capped at 100.
func (j *GenerationJob) ProgressPercent() int {
	if j.requestedCount == 0 {
		return 0
	}
	percent := j.generatedCount * 100 / j.requestedCount
	if percent > 100 {
		return 100
	}
	return percent
}

// IsTerminal returns true if the job is in a terminal state.
func (j *GenerationJob) IsTerminal() bool {
	return j.status.IsTerminal()
}

// Duration returns the job duration if completed.
func (j *GenerationJob) Duration() *time.Duration {
	if j.startedAt == nil || j.completedAt == nil {
		return nil
	}
	duration := j.completedAt.Sub(*j.startedAt)
	return &duration
}

// Start marks the job as started.
func (j *GenerationJob) Start() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusRunning) {
		return NewDomainError("cannot start job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusRunning
	j.startedAt = &now
	j.updatedAt = now
	return nil
}

// Complete marks the job as completed successfully.
func (j *GenerationJob) Complete() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusCompleted) {
		return NewDomainError("cannot complete job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusCompleted
	j.completedAt = &now
	j.jobError = nil // Clear any previous error
	j.updatedAt = now
	return nil
}

// Fail marks the job as failed with a structured error.
func (j *GenerationJob) Fail(jobError JobError) error {
	if !j.status.CanTransitionTo(valueobject.JobStatusFailed) {
		return NewDomainError("cannot fail job in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = valueobject.JobStatusFailed
	j.completedAt = &now
	j.jobError = &jobError
	j.updatedAt = now
	return nil
}

// RecordBatchFailure records a transient batch failure without failing the
// job: status stays running, retry count advances.
func (j *GenerationJob) RecordBatchFailure() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusRunning) {
		return NewDomainError("cannot record batch failure in current status", "INVALID_STATUS_TRANSITION")
	}

	j.retryCount++
	j.updatedAt = time.Now()
	return nil
}

// Requeue resets a failed or stuck running job back to queued for a restart.
func (j *GenerationJob) Requeue() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusQueued) {
		return NewDomainError("cannot requeue job in current status", "INVALID_STATUS_TRANSITION")
	}

	j.status = valueobject.JobStatusQueued
	j.jobError = nil
	j.updatedAt = time.Now()
	return nil
}

// BeginPublishing marks the job as publishing.
func (j *GenerationJob) BeginPublishing() error {
	if !j.status.CanTransitionTo(valueobject.JobStatusPublishing) {
		return NewDomainError("cannot publish job in current status", "INVALID_STATUS_TRANSITION")
	}

	j.status = valueobject.JobStatusPublishing
	j.updatedAt = time.Now()
	return nil
}

// FinishPublishing resolves the publishing state. The job becomes published
// if at least one item across all publish attempts has been published,
// otherwise it reverts to completed.
func (j *GenerationJob) FinishPublishing(anyPublished bool) error {
	target := valueobject.JobStatusCompleted
	if anyPublished {
		target = valueobject.JobStatusPublished
	}
	if !j.status.CanTransitionTo(target) {
		return NewDomainError("cannot finish publishing in current status", "INVALID_STATUS_TRANSITION")
	}

	now := time.Now()
	j.status = target
	if anyPublished && j.publishedAt == nil {
		j.publishedAt = &now
	}
	j.updatedAt = now
	return nil
}

// ApplyMetrics accumulates batch counters onto the job. The pass/fail split
// must account for every generated item.
func (j *GenerationJob) ApplyMetrics(
	generatedInc, passedInc, failedInc int,
	usage valueobject.TokenUsage,
	cost valueobject.CostBreakdown,
) error {
	if generatedInc < 0 || passedInc < 0 || failedInc < 0 {
		return NewDomainError("metric increments cannot be negative", "INVALID_METRICS")
	}
	if passedInc+failedInc != generatedInc {
		return NewDomainError("passed and failed counts must sum to generated count", "INVALID_METRICS")
	}

	j.generatedCount += generatedInc
	j.passedCount += passedInc
	j.failedCount += failedInc
	j.tokenUsage = j.tokenUsage.Add(usage)
	j.cost = j.cost.Add(cost)
	j.updatedAt = time.Now()
	return nil
}

// Equal compares two GenerationJob entities.
func (j *GenerationJob) Equal(other *GenerationJob) bool {
	if other == nil {
		return false
	}
	return j.id == other.id
}
