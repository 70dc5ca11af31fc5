package inbound

import (
	"context"

	"quizgen/internal/application/dto"

	"github.com/google/uuid"
)

// JobService is the job lifecycle facade exposed to the boundary layer.
type JobService interface {
	// CreateJob validates the request, persists a queued job and hands it to
	// the queue, falling back to inline execution when the broker is down.
	CreateJob(ctx context.Context, request dto.CreateJobRequest) (*dto.JobResponse, error)

	// GetJob returns one job.
	GetJob(ctx context.Context, jobID uuid.UUID) (*dto.JobResponse, error)

	// ListJobs returns jobs matching the query.
	ListJobs(ctx context.Context, query dto.JobListQuery) (*dto.JobListResponse, error)

	// ListItems returns a job's items.
	ListItems(ctx context.Context, jobID uuid.UUID) ([]dto.ItemResponse, error)

	// RestartJob resets a failed or stuck job to queued and re-dispatches it.
	RestartJob(ctx context.Context, jobID uuid.UUID) (*dto.JobResponse, error)

	// PublishJobItems promotes approved items into the downstream store.
	PublishJobItems(ctx context.Context, jobID uuid.UUID, request dto.PublishRequest) (*dto.PublishResponse, error)

	// ReviewItem records a human review decision on one item.
	ReviewItem(ctx context.Context, itemID uuid.UUID, approve bool) error
}
