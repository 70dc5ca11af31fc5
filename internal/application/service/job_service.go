package service

import (
	"context"
	"errors"
	"fmt"

	"quizgen/internal/application/common"
	"quizgen/internal/application/common/slogger"
	"quizgen/internal/application/dto"
	domainerrors "quizgen/internal/domain/errors/domain"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
)

// DefaultJobService implements the job lifecycle facade. Creation hands jobs
// to the queue when the broker is reachable and falls back to inline
// execution when it is not; the broker's availability is rechecked on a
// configured interval by the queue itself, so the fallback heals without
// restarts.
type DefaultJobService struct {
	repo       outbound.JobRepository
	queue      outbound.JobQueue
	inline     *InlineExecutor
	maxPerJob  int
	difficulty map[string]bool
}

// NewDefaultJobService creates the job service.
func NewDefaultJobService(
	repo outbound.JobRepository,
	queue outbound.JobQueue,
	inline *InlineExecutor,
	maxPerJob int,
) *DefaultJobService {
	if repo == nil {
		panic("repo cannot be nil")
	}
	if queue == nil {
		panic("queue cannot be nil")
	}
	if inline == nil {
		panic("inline executor cannot be nil")
	}
	if maxPerJob <= 0 {
		maxPerJob = 100
	}
	return &DefaultJobService{
		repo:      repo,
		queue:     queue,
		inline:    inline,
		maxPerJob: maxPerJob,
		difficulty: map[string]bool{
			"easy": true, "medium": true, "hard": true, "mixed": true,
		},
	}
}

// CreateJob validates the request, persists the job and dispatches it.
func (s *DefaultJobService) CreateJob(
	ctx context.Context,
	request dto.CreateJobRequest,
) (*dto.JobResponse, error) {
	if err := s.validateCreateRequest(request); err != nil {
		return nil, err
	}

	job, err := s.repo.CreateJob(ctx, outbound.CreateJobParams{
		SubjectID:                request.SubjectID,
		ChapterID:                request.ChapterID,
		TopicID:                  request.TopicID,
		Difficulty:               request.Difficulty,
		RequestedCount:           request.Count,
		RequestedBy:              request.RequestedBy,
		CognitiveDistribution:    request.CognitiveDistribution,
		QuestionTypeDistribution: request.QuestionTypeDistribution,
		GenerationModel:          request.GenerationModelOverride,
		QCModel:                  request.QCModelOverride,
	})
	if err != nil {
		return nil, common.WrapServiceError(common.OpCreateJob, err)
	}

	s.dispatch(ctx, job.ID())

	slogger.Info(ctx, "Generation job created", slogger.Fields{
		"job_id":          job.ID().String(),
		"requested_count": request.Count,
		"requested_by":    request.RequestedBy,
	})
	return common.EntityToJobResponse(job), nil
}

// dispatch enqueues the job, running it inline if the broker is down. An
// already-persisted job is never lost: worst case it stays queued until a
// restart or the recovery loop re-dispatches it.
func (s *DefaultJobService) dispatch(ctx context.Context, jobID uuid.UUID) {
	err := s.queue.EnqueueJob(ctx, jobID)
	if err == nil {
		return
	}

	if errors.Is(err, outbound.ErrBrokerUnavailable) {
		s.inline.Execute(ctx, jobID)
		return
	}

	slogger.ErrorWithError(ctx, "Failed to enqueue job, falling back to inline execution", err, slogger.Fields{
		"job_id": jobID.String(),
	})
	s.inline.Execute(ctx, jobID)
}

func (s *DefaultJobService) validateCreateRequest(request dto.CreateJobRequest) error {
	if request.SubjectID == uuid.Nil {
		return fmt.Errorf("%w: subject_id is required", domainerrors.ErrValidation)
	}
	if request.ChapterID == uuid.Nil {
		return fmt.Errorf("%w: chapter_id is required", domainerrors.ErrValidation)
	}
	if request.Count < 1 || request.Count > s.maxPerJob {
		return fmt.Errorf("%w: count must be between 1 and %d", domainerrors.ErrValidation, s.maxPerJob)
	}
	if request.RequestedBy == "" {
		return fmt.Errorf("%w: requested_by is required", domainerrors.ErrValidation)
	}
	if !s.difficulty[request.Difficulty] {
		return fmt.Errorf("%w: unknown difficulty %q", domainerrors.ErrValidation, request.Difficulty)
	}
	for _, distribution := range []map[string]int{request.CognitiveDistribution, request.QuestionTypeDistribution} {
		for key, count := range distribution {
			if count < 0 {
				return fmt.Errorf("%w: distribution %q has negative count", domainerrors.ErrValidation, key)
			}
		}
	}
	return nil
}

// GetJob returns one job.
func (s *DefaultJobService) GetJob(ctx context.Context, jobID uuid.UUID) (*dto.JobResponse, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrJobNotFound) {
			return nil, err
		}
		return nil, common.WrapServiceError(common.OpGetJob, err)
	}
	return common.EntityToJobResponse(job), nil
}

// ListJobs returns jobs matching the query.
func (s *DefaultJobService) ListJobs(ctx context.Context, query dto.JobListQuery) (*dto.JobListResponse, error) {
	defaults := dto.DefaultJobListQuery()
	if query.Limit <= 0 {
		query.Limit = defaults.Limit
	}
	if query.Offset < 0 {
		query.Offset = defaults.Offset
	}

	jobs, total, err := s.repo.ListJobs(ctx, outbound.JobFilters{
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return nil, common.WrapServiceError(common.OpListJobs, err)
	}

	responses := make([]dto.JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, *common.EntityToJobResponse(job))
	}
	return &dto.JobListResponse{
		Jobs: responses,
		Pagination: dto.PaginationResponse{
			Total:  total,
			Limit:  query.Limit,
			Offset: query.Offset,
		},
	}, nil
}

// ListItems returns a job's items.
func (s *DefaultJobService) ListItems(ctx context.Context, jobID uuid.UUID) ([]dto.ItemResponse, error) {
	if _, err := s.repo.GetJob(ctx, jobID); err != nil {
		if errors.Is(err, domainerrors.ErrJobNotFound) {
			return nil, err
		}
		return nil, common.WrapServiceError(common.OpListItems, err)
	}

	items, err := s.repo.ListItems(ctx, jobID)
	if err != nil {
		return nil, common.WrapServiceError(common.OpListItems, err)
	}

	responses := make([]dto.ItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, common.EntityToItemResponse(item))
	}
	return responses, nil
}

// RestartJob resets a failed or stuck-running job back to queued and
// re-dispatches it. Counters and already stored items are kept; the batch
// loop resumes from the remaining count.
func (s *DefaultJobService) RestartJob(ctx context.Context, jobID uuid.UUID) (*dto.JobResponse, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrJobNotFound) {
			return nil, err
		}
		return nil, common.WrapServiceError(common.OpRestartJob, err)
	}

	switch job.Status() {
	case valueobject.JobStatusFailed, valueobject.JobStatusRunning:
	default:
		return nil, fmt.Errorf("%w: job is %s", domainerrors.ErrJobNotRestartable, job.Status())
	}

	job, err = s.repo.SetStatus(ctx, jobID, valueobject.JobStatusQueued, nil, false)
	if err != nil {
		return nil, common.WrapServiceError(common.OpRestartJob, err)
	}

	s.dispatch(ctx, jobID)

	slogger.Info(ctx, "Job restarted", slogger.Fields{
		"job_id": jobID.String(),
	})
	return common.EntityToJobResponse(job), nil
}

// PublishJobItems promotes approved items into the downstream store.
func (s *DefaultJobService) PublishJobItems(
	ctx context.Context,
	jobID uuid.UUID,
	request dto.PublishRequest,
) (*dto.PublishResponse, error) {
	mode := outbound.PublishMode(request.Mode)
	switch mode {
	case outbound.PublishModeSelected, outbound.PublishModeAllApproved:
	default:
		return nil, fmt.Errorf("%w: unknown publish mode %q", domainerrors.ErrValidation, request.Mode)
	}

	result, err := s.repo.PublishItems(ctx, jobID, outbound.PublishRequest{
		Mode:    mode,
		ItemIDs: request.ItemIDs,
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrJobNotFound) {
			return nil, err
		}
		return nil, common.WrapServiceError(common.OpPublishItems, err)
	}

	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, common.WrapServiceError(common.OpPublishItems, err)
	}

	slogger.Info(ctx, "Publish finished", slogger.Fields{
		"job_id":          jobID.String(),
		"published_count": result.PublishedCount,
		"skipped_count":   result.SkippedCount,
		"failed_count":    result.FailedCount,
	})
	return &dto.PublishResponse{
		JobID:          jobID,
		Status:         job.Status().String(),
		PublishedCount: result.PublishedCount,
		SkippedCount:   result.SkippedCount,
		FailedCount:    result.FailedCount,
		PublishedIDs:   result.PublishedIDs,
	}, nil
}

// ReviewItem records a human review decision on one item.
func (s *DefaultJobService) ReviewItem(ctx context.Context, itemID uuid.UUID, approve bool) error {
	status := valueobject.ReviewStatusRejected
	if approve {
		status = valueobject.ReviewStatusApproved
	}

	if err := s.repo.SetReviewStatus(ctx, itemID, status); err != nil {
		if errors.Is(err, domainerrors.ErrItemNotFound) {
			return err
		}
		return common.WrapServiceError(common.OpReviewItem, err)
	}
	return nil
}
