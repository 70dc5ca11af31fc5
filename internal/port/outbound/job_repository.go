package outbound

import (
	"context"
	"time"

	"quizgen/internal/domain/entity"
	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
)

// CreateJobParams carries the validated inputs for job creation. TopicID is
// optional; when set, the topic (and its subject/chapter chain) must resolve
// or creation fails with a validation error.
type CreateJobParams struct {
	SubjectID                uuid.UUID
	ChapterID                uuid.UUID
	TopicID                  *uuid.UUID
	Difficulty               string
	RequestedCount           int
	RequestedBy              string
	CognitiveDistribution    map[string]int
	QuestionTypeDistribution map[string]int
	GenerationModel          string
	QCModel                  string
}

// MetricsUpdate carries one batch's counter and usage increments. Generator
// and validator usage are split so each can be priced by its own model.
type MetricsUpdate struct {
	GeneratedInc   int
	PassedInc      int
	FailedInc      int
	GeneratorUsage valueobject.TokenUsage
	ValidatorUsage valueobject.TokenUsage
	GeneratorModel string
	ValidatorModel string
}

// PublishMode selects which items a publish request covers.
type PublishMode string

// Publish modes.
const (
	PublishModeSelected    PublishMode = "selected"
	PublishModeAllApproved PublishMode = "all_approved"
)

// PublishRequest selects items to promote into the downstream content store.
type PublishRequest struct {
	Mode    PublishMode
	ItemIDs []uuid.UUID
}

// PublishResult summarizes one publish transaction.
type PublishResult struct {
	PublishedCount int
	SkippedCount   int
	FailedCount    int
	PublishedIDs   []uuid.UUID
}

// JobFilters constrains job listing.
type JobFilters struct {
	Status string
	Limit  int
	Offset int
}

// JobRepository persists jobs, items and events. Every mutating method runs
// inside a single transaction; failures roll back and propagate.
type JobRepository interface {
	// CreateJob resolves taxonomy, persists the job in queued status and
	// emits a queued event.
	CreateJob(ctx context.Context, params CreateJobParams) (*entity.GenerationJob, error)

	// GetJob loads a job by id.
	GetJob(ctx context.Context, jobID uuid.UUID) (*entity.GenerationJob, error)

	// ListJobs returns jobs matching the filters plus the unfiltered total.
	ListJobs(ctx context.Context, filters JobFilters) ([]*entity.GenerationJob, int, error)

	// SetStatus enforces the state machine and stamps the transition
	// timestamps. A nil jobError clears any stored error on non-failed
	// targets; incrementRetry bumps retry_count in the same transaction.
	SetStatus(
		ctx context.Context,
		jobID uuid.UUID,
		status valueobject.JobStatus,
		jobError *entity.JobError,
		incrementRetry bool,
	) (*entity.GenerationJob, error)

	// UpdateMetrics atomically increments counters, token usage and cost.
	UpdateMetrics(ctx context.Context, jobID uuid.UUID, update MetricsUpdate) (*entity.GenerationJob, error)

	// InsertItems bulk-inserts a batch of items and returns the number stored.
	InsertItems(ctx context.Context, jobID uuid.UUID, items []*entity.QuestionItem) (int, error)

	// ListItems returns all items belonging to a job, oldest first.
	ListItems(ctx context.Context, jobID uuid.UUID) ([]*entity.QuestionItem, error)

	// ListItemQuestions returns the question texts already stored for a job,
	// oldest first, for dedup and avoid-list purposes.
	ListItemQuestions(ctx context.Context, jobID uuid.UUID) ([]string, error)

	// ReplaceItem swaps a failed item for its corrected version inside one
	// transaction, used by the self-correction round.
	ReplaceItem(ctx context.Context, itemID uuid.UUID, replacement *entity.QuestionItem) error

	// RemoveItems deletes near-duplicate items flagged after insertion.
	RemoveItems(ctx context.Context, itemIDs []uuid.UUID) error

	// SetReviewStatus records a human review decision on an item.
	SetReviewStatus(ctx context.Context, itemID uuid.UUID, status valueobject.ReviewStatus) error

	// PublishItems promotes eligible items into the downstream content store
	// with per-item failure isolation and idempotent skips.
	PublishItems(ctx context.Context, jobID uuid.UUID, request PublishRequest) (*PublishResult, error)

	// FindStuckJobs returns ids of running jobs whose started_at is older
	// than maxAge, for crash recovery.
	FindStuckJobs(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error)

	// InsertEvent appends one audit event.
	InsertEvent(ctx context.Context, event *entity.JobEvent) error

	// ListEvents returns a job's audit trail, oldest first.
	ListEvents(ctx context.Context, jobID uuid.UUID, limit int) ([]*entity.JobEvent, error)
}
