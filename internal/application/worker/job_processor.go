package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/config"
	"quizgen/internal/domain/dedup"
	"quizgen/internal/domain/entity"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/observability"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
)

// JobProcessor drives one generation job from running to a terminal batch
// outcome. Batch-level errors are retried in place within the consecutive
// failure budget; only infrastructure errors (repository unreachable) return
// to the caller for redelivery.
type JobProcessor struct {
	repo      outbound.JobRepository
	queue     outbound.JobQueue
	generator outbound.Generator
	validator outbound.Validator
	metrics   *observability.WorkerMetrics
	genConfig config.GenerationConfig
	timeout   time.Duration
}

// NewJobProcessor creates a processor. metrics may be nil when no meter
// provider is configured.
func NewJobProcessor(
	repo outbound.JobRepository,
	queue outbound.JobQueue,
	generator outbound.Generator,
	validator outbound.Validator,
	metrics *observability.WorkerMetrics,
	genConfig config.GenerationConfig,
	jobTimeout time.Duration,
) *JobProcessor {
	return &JobProcessor{
		repo:      repo,
		queue:     queue,
		generator: generator,
		validator: validator,
		metrics:   metrics,
		genConfig: genConfig,
		timeout:   jobTimeout,
	}
}

// ProcessJob runs the batch loop for one job.
func (p *JobProcessor) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	job, err := p.repo.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	switch job.Status() {
	case valueobject.JobStatusQueued, valueobject.JobStatusRunning:
		// Queued is the normal hand-off; running means a redelivery after a
		// crash or a stuck-job requeue race. Both proceed.
	default:
		slogger.Info(ctx, "Skipping job in non-runnable status", slogger.Fields{
			"job_id": jobID.String(),
			"status": job.Status().String(),
		})
		return nil
	}

	if job.Status() == valueobject.JobStatusQueued {
		job, err = p.repo.SetStatus(ctx, jobID, valueobject.JobStatusRunning, nil, false)
		if err != nil {
			return fmt.Errorf("failed to mark job running: %w", err)
		}
	}

	if err := p.repo.InsertEvent(ctx, entity.NewJobEvent(jobID, entity.EventTypeStarted, nil)); err != nil {
		return fmt.Errorf("failed to record started event: %w", err)
	}
	p.metrics.RecordJobStarted(ctx)
	p.publishProgress(ctx, job, 0, "")

	consecutiveFailures := 0
	for job.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			// Leave the job running; the stuck-job reaper requeues it.
			return err
		}

		updated, newItems, batchErr := p.runBatch(ctx, job)
		if batchErr != nil {
			if isInfrastructureError(batchErr) {
				return batchErr
			}

			consecutiveFailures++
			slogger.ErrorWithError(ctx, "Batch failed", batchErr, slogger.Fields{
				"job_id":               jobID.String(),
				"consecutive_failures": consecutiveFailures,
			})

			job, err = p.repo.SetStatus(ctx, jobID, valueobject.JobStatusRunning, nil, true)
			if err != nil {
				return fmt.Errorf("failed to record batch failure: %w", err)
			}
			p.recordEvent(ctx, jobID, entity.EventTypeBatchFailed, map[string]any{
				"error":                batchErr.Error(),
				"consecutive_failures": consecutiveFailures,
			})

			if consecutiveFailures > p.genConfig.MaxRetries {
				return p.failJob(ctx, job, batchErr)
			}
			continue
		}

		consecutiveFailures = 0
		job = updated
		p.publishProgress(ctx, job, newItems, "")
	}

	job, err = p.repo.SetStatus(ctx, jobID, valueobject.JobStatusCompleted, nil, false)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	p.recordEvent(ctx, jobID, entity.EventTypeCompleted, map[string]any{
		"generated_count": job.GeneratedCount(),
		"passed_count":    job.PassedCount(),
		"failed_count":    job.FailedCount(),
	})
	p.metrics.RecordJobCompleted(ctx)
	p.publishProgress(ctx, job, 0, "")

	slogger.Info(ctx, "Job completed", slogger.Fields{
		"job_id":          jobID.String(),
		"generated_count": job.GeneratedCount(),
		"passed_count":    job.PassedCount(),
		"failed_count":    job.FailedCount(),
		"total_cost":      job.Cost().TotalCost,
	})
	return nil
}

// runBatch executes one generate/validate/persist cycle and returns the
// refreshed job plus the number of new items stored.
func (p *JobProcessor) runBatch(
	ctx context.Context,
	job *entity.GenerationJob,
) (*entity.GenerationJob, int, error) {
	jobID := job.ID()
	batchSize := p.genConfig.BatchSize
	if remaining := job.Remaining(); remaining < batchSize {
		batchSize = remaining
	}

	existing, err := p.repo.ListItemQuestions(ctx, jobID)
	if err != nil {
		return nil, 0, infrastructureError(fmt.Errorf("failed to list existing questions: %w", err))
	}

	request := p.buildGenerationRequest(job, batchSize, tail(existing, p.genConfig.AvoidListSize))

	raw, genUsage, err := p.generator.Generate(ctx, request)
	if err != nil {
		return nil, 0, fmt.Errorf("generation call failed: %w", err)
	}

	rawQC, qcUsage, err := p.validator.Validate(ctx, raw, payloadString(job, "qc_model"))
	if err != nil {
		return nil, 0, fmt.Errorf("validation call failed: %w", err)
	}

	questions, err := ParseBatch(rawQC)
	if err != nil {
		return nil, 0, err
	}

	items, droppedStructural := BuildItems(jobID, request.Difficulty, questions, p.qcPassThreshold())
	if len(items) > 0 {
		if _, err := p.repo.InsertItems(ctx, jobID, items); err != nil {
			return nil, 0, infrastructureError(fmt.Errorf("failed to insert items: %w", err))
		}
	}

	items, droppedDuplicates := p.removeDuplicates(ctx, items, existing)
	if len(items) == 0 {
		return nil, 0, fmt.Errorf("batch produced no usable items (%d structural, %d duplicate drops)",
			droppedStructural, droppedDuplicates)
	}

	passed, failed := countVerdicts(items)
	previousCost := job.Cost().TotalCost

	job, err = p.repo.UpdateMetrics(ctx, jobID, outbound.MetricsUpdate{
		GeneratedInc:   len(items),
		PassedInc:      passed,
		FailedInc:      failed,
		GeneratorUsage: genUsage,
		ValidatorUsage: qcUsage,
		GeneratorModel: p.generationModel(job, genUsage),
		ValidatorModel: payloadString(job, "qc_model"),
	})
	if err != nil {
		return nil, 0, infrastructureError(fmt.Errorf("failed to update metrics: %w", err))
	}

	p.recordEvent(ctx, jobID, entity.EventTypeBatchDone, map[string]any{
		"inserted":           len(items),
		"passed":             passed,
		"failed":             failed,
		"dropped_structural": droppedStructural,
		"dropped_duplicate":  droppedDuplicates,
	})
	p.metrics.RecordBatch(ctx,
		p.generationModel(job, genUsage),
		len(items), passed, failed,
		genUsage.TotalTokens+qcUsage.TotalTokens,
		job.Cost().TotalCost-previousCost,
	)

	job = p.selfCorrect(ctx, job, items)

	return job, len(items), nil
}

// selfCorrect runs at most one corrective round over the batch's failed
// items. Its own failures are logged and swallowed: correction improves
// quality, it never decides the job's fate.
func (p *JobProcessor) selfCorrect(
	ctx context.Context,
	job *entity.GenerationJob,
	batch []*entity.QuestionItem,
) *entity.GenerationJob {
	failedItems := failedOldestFirst(batch)
	if len(failedItems) == 0 || len(failedItems) > p.genConfig.SelfCorrectionLimit {
		return job
	}

	jobID := job.ID()
	request := outbound.CorrectionRequest{Model: payloadString(job, "generation_model")}
	for _, item := range failedItems {
		request.Items = append(request.Items, outbound.CorrectionItem{
			Question:      item.Question,
			Options:       item.Options,
			CorrectAnswer: item.CorrectAnswer,
			Explanation:   item.Explanation,
			Violations:    item.Violations,
		})
	}

	raw, genUsage, err := p.generator.Correct(ctx, request)
	if err != nil {
		slogger.Warn(ctx, "Self-correction generation failed, keeping originals", slogger.Fields{
			"job_id": jobID.String(), "error": err.Error(),
		})
		return job
	}

	rawQC, qcUsage, err := p.validator.Validate(ctx, raw, payloadString(job, "qc_model"))
	if err != nil {
		slogger.Warn(ctx, "Self-correction validation failed, keeping originals", slogger.Fields{
			"job_id": jobID.String(), "error": err.Error(),
		})
		return job
	}

	questions, err := ParseBatch(rawQC)
	if err != nil {
		slogger.Warn(ctx, "Self-correction output unparseable, keeping originals", slogger.Fields{
			"job_id": jobID.String(), "error": err.Error(),
		})
		return job
	}

	corrected, _ := BuildItems(jobID, failedItems[0].Difficulty, questions, p.qcPassThreshold())

	replaced := 0
	for _, candidate := range corrected {
		if replaced >= len(failedItems) {
			break
		}
		if candidate.QCStatus != valueobject.QCStatusPass {
			continue
		}
		target := failedItems[replaced]
		if err := p.repo.ReplaceItem(ctx, target.ID, candidate); err != nil {
			slogger.Warn(ctx, "Failed to replace corrected item", slogger.Fields{
				"job_id": jobID.String(), "item_id": target.ID.String(), "error": err.Error(),
			})
			continue
		}
		replaced++
	}

	updated, err := p.repo.UpdateMetrics(ctx, jobID, outbound.MetricsUpdate{
		GeneratedInc:   0,
		PassedInc:      replaced,
		FailedInc:      -replaced,
		GeneratorUsage: genUsage,
		ValidatorUsage: qcUsage,
		GeneratorModel: payloadString(job, "generation_model"),
		ValidatorModel: payloadString(job, "qc_model"),
	})
	if err != nil {
		slogger.Warn(ctx, "Failed to record self-correction metrics", slogger.Fields{
			"job_id": jobID.String(), "error": err.Error(),
		})
		return job
	}
	if replaced > 0 {
		slogger.Info(ctx, "Self-correction replaced failed items", slogger.Fields{
			"job_id": jobID.String(), "replaced": replaced,
		})
	}
	return updated
}

// removeDuplicates deletes just-inserted items whose question text is
// near-identical to previously stored questions. Dedup is best-effort: when
// the removal itself fails the duplicates stay and count like any other item,
// never a batch failure.
func (p *JobProcessor) removeDuplicates(
	ctx context.Context,
	items []*entity.QuestionItem,
	existing []string,
) ([]*entity.QuestionItem, int) {
	if len(items) == 0 || len(existing) == 0 {
		return items, 0
	}

	candidates := make([]string, len(items))
	for i, item := range items {
		candidates[i] = item.Question
	}

	dupIndices := dedup.FindDuplicates(candidates, existing, p.genConfig.DedupThreshold)
	if len(dupIndices) == 0 {
		return items, 0
	}

	duplicate := make(map[int]bool, len(dupIndices))
	ids := make([]uuid.UUID, 0, len(dupIndices))
	for _, idx := range dupIndices {
		duplicate[idx] = true
		ids = append(ids, items[idx].ID)
	}

	if err := p.repo.RemoveItems(ctx, ids); err != nil {
		slogger.Warn(ctx, "Failed to remove near-duplicate items, keeping them", slogger.Fields{
			"job_id": items[0].JobID.String(),
			"count":  len(ids),
			"error":  err.Error(),
		})
		return items, 0
	}

	kept := items[:0]
	for i, item := range items {
		if duplicate[i] {
			slogger.Debug(ctx, "Removed near-duplicate item", slogger.Fields{
				"job_id": item.JobID.String(),
			})
			continue
		}
		kept = append(kept, item)
	}
	return kept, len(dupIndices)
}

func (p *JobProcessor) failJob(ctx context.Context, job *entity.GenerationJob, cause error) error {
	jobID := job.ID()
	jobErr := &entity.JobError{
		Message:      cause.Error(),
		TraceSummary: fmt.Sprintf("batch loop exhausted %d retries", p.genConfig.MaxRetries),
	}

	failed, err := p.repo.SetStatus(ctx, jobID, valueobject.JobStatusFailed, jobErr, false)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	p.recordEvent(ctx, jobID, entity.EventTypeFailed, map[string]any{"error": cause.Error()})
	p.metrics.RecordJobFailed(ctx)
	p.publishProgress(ctx, failed, 0, cause.Error())

	slogger.Error(ctx, "Job failed after exhausting retry budget", slogger.Fields{
		"job_id": jobID.String(),
		"error":  cause.Error(),
	})
	return nil
}

func (p *JobProcessor) buildGenerationRequest(
	job *entity.GenerationJob,
	batchSize int,
	avoidList []string,
) outbound.GenerationRequest {
	return outbound.GenerationRequest{
		Topic:                    payloadString(job, "topic"),
		Subject:                  payloadString(job, "subject"),
		Chapter:                  payloadString(job, "chapter"),
		Difficulty:               payloadString(job, "difficulty"),
		Count:                    batchSize,
		AvoidList:                avoidList,
		CognitiveDistribution:    payloadDistribution(job, "cognitive_distribution"),
		QuestionTypeDistribution: payloadDistribution(job, "question_type_distribution"),
		Model:                    payloadString(job, "generation_model"),
	}
}

func (p *JobProcessor) publishProgress(ctx context.Context, job *entity.GenerationJob, newItems int, errMsg string) {
	if p.queue == nil {
		return
	}
	event := outbound.ProgressEvent{
		JobID:           job.ID(),
		Status:          job.Status().String(),
		ProgressPercent: job.ProgressPercent(),
		GeneratedCount:  job.GeneratedCount(),
		PassedCount:     job.PassedCount(),
		FailedCount:     job.FailedCount(),
		NewItems:        newItems,
		Error:           errMsg,
	}
	if err := p.queue.PublishProgress(ctx, event); err != nil {
		slogger.Debug(ctx, "Progress publish rejected", slogger.Fields{
			"job_id": job.ID().String(),
			"error":  err.Error(),
		})
	}
}

func (p *JobProcessor) recordEvent(ctx context.Context, jobID uuid.UUID, eventType entity.EventType, payload map[string]any) {
	if err := p.repo.InsertEvent(ctx, entity.NewJobEvent(jobID, eventType, payload)); err != nil {
		slogger.Warn(ctx, "Failed to record job event", slogger.Fields{
			"job_id":     jobID.String(),
			"event_type": string(eventType),
			"error":      err.Error(),
		})
	}
}

func (p *JobProcessor) qcPassThreshold() int {
	if p.genConfig.QCPassThreshold > 0 {
		return p.genConfig.QCPassThreshold
	}
	return 70
}

// generationModel resolves the model used for a batch, preferring the
// payload's override.
func (p *JobProcessor) generationModel(job *entity.GenerationJob, _ valueobject.TokenUsage) string {
	return payloadString(job, "generation_model")
}

// infraError marks batch errors the consumer should see for redelivery
// rather than the retry budget absorbing them.
type infraError struct{ err error }

func (e *infraError) Error() string { return e.err.Error() }
func (e *infraError) Unwrap() error { return e.err }

func infrastructureError(err error) error { return &infraError{err: err} }

func isInfrastructureError(err error) bool {
	var ie *infraError
	return errors.As(err, &ie)
}

func countVerdicts(items []*entity.QuestionItem) (passed, failed int) {
	for _, item := range items {
		if item.QCStatus == valueobject.QCStatusPass {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

func failedOldestFirst(items []*entity.QuestionItem) []*entity.QuestionItem {
	var failed []*entity.QuestionItem
	for _, item := range items {
		if item.QCStatus == valueobject.QCStatusFail {
			failed = append(failed, item)
		}
	}
	return failed
}

func tail(values []string, n int) []string {
	if n <= 0 || len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func payloadString(job *entity.GenerationJob, key string) string {
	if value, ok := job.RequestPayload()[key].(string); ok {
		return value
	}
	return ""
}

func payloadDistribution(job *entity.GenerationJob, key string) map[string]int {
	raw, ok := job.RequestPayload()[key].(map[string]any)
	if !ok {
		return nil
	}
	distribution := make(map[string]int, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			distribution[k] = int(n)
		case int:
			distribution[k] = n
		}
	}
	return distribution
}
