package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quizgen/internal/domain/entity"
	domainerrors "quizgen/internal/domain/errors/domain"
	"quizgen/internal/domain/pricing"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJobRepository implements the JobRepository interface over pgx.
// Every mutating method runs inside a single transaction; nested calls join
// the transaction already carried by the context.
type PostgresJobRepository struct {
	pool         *pgxpool.Pool
	tm           *TransactionManager
	pricing      *pricing.Calculator
	contentStore outbound.ContentStore
}

// NewPostgresJobRepository creates a new PostgreSQL job repository.
func NewPostgresJobRepository(
	pool *pgxpool.Pool,
	pricingCalc *pricing.Calculator,
	contentStore outbound.ContentStore,
) *PostgresJobRepository {
	return &PostgresJobRepository{
		pool:         pool,
		tm:           NewTransactionManager(pool),
		pricing:      pricingCalc,
		contentStore: contentStore,
	}
}

const jobColumns = `id, status, requested_count, generated_count, passed_count, failed_count,
	input_tokens, output_tokens, total_tokens,
	input_cost, output_cost, total_cost,
	retry_count, error, request_payload,
	created_at, updated_at, started_at, completed_at, published_at`

// CreateJob resolves taxonomy names, persists the job in queued status and
// appends the queued audit event, all in one transaction.
func (r *PostgresJobRepository) CreateJob(
	ctx context.Context,
	params outbound.CreateJobParams,
) (*entity.GenerationJob, error) {
	var job *entity.GenerationJob

	err := r.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		payload, err := r.buildRequestPayload(txCtx, params)
		if err != nil {
			return err
		}

		job, err = entity.NewGenerationJob(params.RequestedCount, payload)
		if err != nil {
			return err
		}

		if err := r.insertJob(txCtx, job); err != nil {
			return err
		}

		event := entity.NewJobEvent(job.ID(), entity.EventTypeQueued, map[string]any{
			"requested_count": params.RequestedCount,
			"requested_by":    params.RequestedBy,
		})
		return r.InsertEvent(txCtx, event)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// buildRequestPayload resolves taxonomy lookups and captures the generation
// parameters as the job's opaque request payload. An unresolved topic is a
// validation error; subject/chapter names are best-effort when no topic was
// specified.
func (r *PostgresJobRepository) buildRequestPayload(
	ctx context.Context,
	params outbound.CreateJobParams,
) (map[string]any, error) {
	qi := GetQueryInterface(ctx, r.pool)

	var subjectName, chapterName, topicName string

	if params.TopicID != nil {
		query := `
			SELECT t.name, c.name, s.name
			FROM quizgen.topics t
			JOIN quizgen.chapters c ON t.chapter_id = c.id
			JOIN quizgen.subjects s ON c.subject_id = s.id
			WHERE t.id = $1`
		err := qi.QueryRow(ctx, query, *params.TopicID).Scan(&topicName, &chapterName, &subjectName)
		if err != nil {
			if IsNotFoundError(err) {
				return nil, fmt.Errorf("%w: %w", domainerrors.ErrValidation, domainerrors.ErrTopicNotFound)
			}
			return nil, WrapError(err, "resolve topic")
		}
	} else {
		query := `
			SELECT s.name, c.name
			FROM quizgen.subjects s
			JOIN quizgen.chapters c ON c.subject_id = s.id
			WHERE s.id = $1 AND c.id = $2`
		err := qi.QueryRow(ctx, query, params.SubjectID, params.ChapterID).Scan(&subjectName, &chapterName)
		if err != nil && !IsNotFoundError(err) {
			return nil, WrapError(err, "resolve subject and chapter")
		}
	}

	payload := map[string]any{
		"subject_id":   params.SubjectID.String(),
		"chapter_id":   params.ChapterID.String(),
		"subject":      subjectName,
		"chapter":      chapterName,
		"difficulty":   params.Difficulty,
		"requested_by": params.RequestedBy,
	}
	if params.TopicID != nil {
		payload["topic_id"] = params.TopicID.String()
		payload["topic"] = topicName
	}
	if len(params.CognitiveDistribution) > 0 {
		payload["cognitive_distribution"] = params.CognitiveDistribution
	}
	if len(params.QuestionTypeDistribution) > 0 {
		payload["question_type_distribution"] = params.QuestionTypeDistribution
	}
	if params.GenerationModel != "" {
		payload["generation_model"] = params.GenerationModel
	}
	if params.QCModel != "" {
		payload["qc_model"] = params.QCModel
	}
	return payload, nil
}

func (r *PostgresJobRepository) insertJob(ctx context.Context, job *entity.GenerationJob) error {
	payloadJSON, err := json.Marshal(job.RequestPayload())
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	query := `
		INSERT INTO quizgen.generation_jobs (
			id, status, requested_count, generated_count, passed_count, failed_count,
			input_tokens, output_tokens, total_tokens,
			input_cost, output_cost, total_cost,
			retry_count, error, request_payload,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, NULL, $4, $5, $6
		)`

	qi := GetQueryInterface(ctx, r.pool)
	_, err = qi.Exec(ctx, query,
		job.ID(),
		job.Status().String(),
		job.RequestedCount(),
		payloadJSON,
		job.CreatedAt(),
		job.UpdatedAt(),
	)
	if err != nil {
		return WrapError(err, "insert generation job")
	}
	return nil
}

// GetJob loads a job by its ID.
func (r *PostgresJobRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*entity.GenerationJob, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + jobColumns + ` FROM quizgen.generation_jobs WHERE id = $1`

	qi := GetQueryInterface(ctx, r.pool)
	job, err := scanJob(qi.QueryRow(ctx, query, jobID))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, domainerrors.ErrJobNotFound
		}
		return nil, WrapError(err, "get generation job")
	}
	return job, nil
}

// ListJobs returns jobs matching the filters plus the unfiltered total.
func (r *PostgresJobRepository) ListJobs(
	ctx context.Context,
	filters outbound.JobFilters,
) ([]*entity.GenerationJob, int, error) {
	if filters.Limit <= 0 {
		return nil, 0, ErrInvalidArgument
	}
	if filters.Offset < 0 {
		return nil, 0, ErrInvalidArgument
	}

	var conditions []string
	args := []any{}
	argIndex := 1

	if filters.Status != "" {
		if _, err := valueobject.NewJobStatus(filters.Status); err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, filters.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	qi := GetQueryInterface(ctx, r.pool)

	var total int
	countQuery := `SELECT COUNT(*) FROM quizgen.generation_jobs` + whereClause
	if err := qi.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, WrapError(err, "count generation jobs")
	}

	listQuery := fmt.Sprintf(
		`SELECT %s FROM quizgen.generation_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, argIndex, argIndex+1,
	)
	args = append(args, filters.Limit, filters.Offset)

	rows, err := qi.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, WrapError(err, "list generation jobs")
	}
	defer rows.Close()

	var jobs []*entity.GenerationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, 0, WrapError(scanErr, "scan generation job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, WrapError(err, "iterate generation jobs")
	}
	return jobs, total, nil
}

// SetStatus enforces the state machine and stamps transition timestamps.
func (r *PostgresJobRepository) SetStatus(
	ctx context.Context,
	jobID uuid.UUID,
	status valueobject.JobStatus,
	jobError *entity.JobError,
	incrementRetry bool,
) (*entity.GenerationJob, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	var job *entity.GenerationJob

	err := r.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		qi := GetQueryInterface(txCtx, r.pool)

		var currentStr string
		lockQuery := `SELECT status FROM quizgen.generation_jobs WHERE id = $1 FOR UPDATE`
		if err := qi.QueryRow(txCtx, lockQuery, jobID).Scan(&currentStr); err != nil {
			if IsNotFoundError(err) {
				return domainerrors.ErrJobNotFound
			}
			return WrapError(err, "lock generation job")
		}

		current, err := valueobject.NewJobStatus(currentStr)
		if err != nil {
			return err
		}
		if !current.CanTransitionTo(status) {
			return entity.NewDomainError(
				fmt.Sprintf("cannot transition job from %s to %s", current, status),
				"INVALID_STATUS_TRANSITION",
			)
		}

		now := time.Now()
		assignments := []string{"status = $2", "updated_at = $3"}
		args := []any{jobID, status.String(), now}
		argIndex := 4

		switch status {
		case valueobject.JobStatusRunning:
			if current == valueobject.JobStatusQueued {
				assignments = append(assignments, fmt.Sprintf("started_at = $%d", argIndex))
				args = append(args, now)
				argIndex++
			}
		case valueobject.JobStatusCompleted, valueobject.JobStatusFailed:
			if current == valueobject.JobStatusRunning {
				assignments = append(assignments, fmt.Sprintf("completed_at = $%d", argIndex))
				args = append(args, now)
				argIndex++
			}
		case valueobject.JobStatusPublished:
			assignments = append(assignments, fmt.Sprintf("published_at = COALESCE(published_at, $%d)", argIndex))
			args = append(args, now)
			argIndex++
		case valueobject.JobStatusQueued, valueobject.JobStatusPublishing:
			// No timestamp to stamp.
		}

		if jobError != nil {
			errorJSON, marshalErr := json.Marshal(jobError)
			if marshalErr != nil {
				return fmt.Errorf("failed to marshal job error: %w", marshalErr)
			}
			assignments = append(assignments, fmt.Sprintf("error = $%d", argIndex))
			args = append(args, errorJSON)
			argIndex++
		} else if status != valueobject.JobStatusFailed {
			assignments = append(assignments, "error = NULL")
		}

		if incrementRetry {
			assignments = append(assignments, "retry_count = retry_count + 1")
		}

		updateQuery := fmt.Sprintf(
			`UPDATE quizgen.generation_jobs SET %s WHERE id = $1 RETURNING %s`,
			strings.Join(assignments, ", "), jobColumns,
		)

		job, err = scanJob(qi.QueryRow(txCtx, updateQuery, args...))
		if err != nil {
			return WrapError(err, "update job status")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateMetrics atomically increments counters, token usage and cost. Cost is
// computed from the pricing table keyed by each model's name.
func (r *PostgresJobRepository) UpdateMetrics(
	ctx context.Context,
	jobID uuid.UUID,
	update outbound.MetricsUpdate,
) (*entity.GenerationJob, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}
	if update.PassedInc+update.FailedInc != update.GeneratedInc {
		return nil, entity.NewDomainError(
			"passed and failed increments must sum to generated increment",
			"INVALID_METRICS",
		)
	}

	genCost := r.pricing.CalculateUsageCost(update.GeneratorModel, update.GeneratorUsage)
	qcCost := r.pricing.CalculateUsageCost(update.ValidatorModel, update.ValidatorUsage)
	cost := genCost.Add(qcCost)
	usage := update.GeneratorUsage.Add(update.ValidatorUsage)

	var job *entity.GenerationJob

	err := r.tm.WithTransaction(ctx, func(txCtx context.Context) error {
		query := `
			UPDATE quizgen.generation_jobs SET
				generated_count = generated_count + $2,
				passed_count = passed_count + $3,
				failed_count = failed_count + $4,
				input_tokens = input_tokens + $5,
				output_tokens = output_tokens + $6,
				total_tokens = total_tokens + $7,
				input_cost = input_cost + $8,
				output_cost = output_cost + $9,
				total_cost = total_cost + $10,
				updated_at = $11
			WHERE id = $1
			RETURNING ` + jobColumns

		qi := GetQueryInterface(txCtx, r.pool)
		var err error
		job, err = scanJob(qi.QueryRow(txCtx, query,
			jobID,
			update.GeneratedInc,
			update.PassedInc,
			update.FailedInc,
			usage.InputTokens,
			usage.OutputTokens,
			usage.TotalTokens,
			cost.InputCost,
			cost.OutputCost,
			cost.TotalCost,
			time.Now(),
		))
		if err != nil {
			if IsNotFoundError(err) {
				return domainerrors.ErrJobNotFound
			}
			return WrapError(err, "update job metrics")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// FindStuckJobs returns running jobs whose started_at is older than maxAge.
func (r *PostgresJobRepository) FindStuckJobs(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error) {
	if maxAge <= 0 {
		return nil, ErrInvalidArgument
	}

	query := `
		SELECT id FROM quizgen.generation_jobs
		WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
		ORDER BY started_at`

	cutoff := time.Now().Add(-maxAge)
	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, valueobject.JobStatusRunning.String(), cutoff)
	if err != nil {
		return nil, WrapError(err, "find stuck jobs")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, WrapError(err, "scan stuck job id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "iterate stuck jobs")
	}
	return ids, nil
}

// InsertEvent appends one audit event. Events are write-once.
func (r *PostgresJobRepository) InsertEvent(ctx context.Context, event *entity.JobEvent) error {
	if event == nil {
		return ErrInvalidArgument
	}

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO quizgen.job_events (id, job_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	qi := GetQueryInterface(ctx, r.pool)
	_, err = qi.Exec(ctx, query, event.ID, event.JobID, string(event.Type), payloadJSON, event.CreatedAt)
	if err != nil {
		return WrapError(err, "insert job event")
	}
	return nil
}

// ListEvents returns a job's audit trail, oldest first.
func (r *PostgresJobRepository) ListEvents(
	ctx context.Context,
	jobID uuid.UUID,
	limit int,
) ([]*entity.JobEvent, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, job_id, event_type, payload, created_at
		FROM quizgen.job_events
		WHERE job_id = $1
		ORDER BY created_at
		LIMIT $2`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, WrapError(err, "list job events")
	}
	defer rows.Close()

	var events []*entity.JobEvent
	for rows.Next() {
		var (
			event       entity.JobEvent
			eventType   string
			payloadJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.JobID, &eventType, &payloadJSON, &event.CreatedAt); err != nil {
			return nil, WrapError(err, "scan job event")
		}
		event.Type = entity.EventType(eventType)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "iterate job events")
	}
	return events, nil
}

// rowScanner matches both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reconstructs a GenerationJob entity from a row using jobColumns
// ordering.
func scanJob(row rowScanner) (*entity.GenerationJob, error) {
	var (
		id                                     uuid.UUID
		statusStr                              string
		requestedCount, generatedCount         int
		passedCount, failedCount               int
		inputTokens, outputTokens, totalTokens int
		inputCost, outputCost, totalCost       float64
		retryCount                             int
		errorJSON, payloadJSON                 []byte
		createdAt, updatedAt                   time.Time
		startedAt, completedAt, publishedAt    *time.Time
	)

	err := row.Scan(
		&id, &statusStr, &requestedCount, &generatedCount, &passedCount, &failedCount,
		&inputTokens, &outputTokens, &totalTokens,
		&inputCost, &outputCost, &totalCost,
		&retryCount, &errorJSON, &payloadJSON,
		&createdAt, &updatedAt, &startedAt, &completedAt, &publishedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := valueobject.NewJobStatus(statusStr)
	if err != nil {
		return nil, err
	}

	var jobError *entity.JobError
	if len(errorJSON) > 0 {
		jobError = &entity.JobError{}
		if err := json.Unmarshal(errorJSON, jobError); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job error: %w", err)
		}
	}

	var payload map[string]any
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request payload: %w", err)
		}
	}

	return entity.RestoreGenerationJob(
		id,
		status,
		requestedCount,
		generatedCount,
		passedCount,
		failedCount,
		valueobject.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  totalTokens,
		},
		valueobject.CostBreakdown{
			InputCost:  inputCost,
			OutputCost: outputCost,
			TotalCost:  totalCost,
		},
		retryCount,
		jobError,
		payload,
		createdAt,
		updatedAt,
		startedAt,
		completedAt,
		publishedAt,
	), nil
}
