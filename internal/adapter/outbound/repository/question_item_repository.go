package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/domain/entity"
	domainerrors "quizgen/internal/domain/errors/domain"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/google/uuid"
)

const itemColumns = `id, job_id, question, options, correct_answer, explanation, difficulty,
	qc_status, review_status, scores, violations, edited, published, published_ref,
	created_at, updated_at`

// publishTxRetries bounds deadlock/serialization retries of the publish
// transaction. The transaction locks the job row and its items, so concurrent
// publishes of the same job can deadlock against concurrent reviews.
const publishTxRetries = 2

// InsertItems bulk-inserts a batch of items using a single multi-row INSERT.
func (r *PostgresJobRepository) InsertItems(
	ctx context.Context,
	jobID uuid.UUID,
	items []*entity.QuestionItem,
) (int, error) {
	if jobID == uuid.Nil {
		return 0, ErrInvalidArgument
	}
	if len(items) == 0 {
		return 0, nil
	}

	const fieldsPerItem = 16
	valueClauses := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*fieldsPerItem)

	for i, item := range items {
		if item == nil {
			return 0, ErrInvalidArgument
		}

		optionsJSON, err := json.Marshal(item.Options)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal item options: %w", err)
		}
		scoresJSON, err := marshalNullable(item.Scores)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal item scores: %w", err)
		}
		violationsJSON, err := marshalNullable(item.Violations)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal item violations: %w", err)
		}

		base := i * fieldsPerItem
		placeholders := make([]string, fieldsPerItem)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueClauses = append(valueClauses, "("+strings.Join(placeholders, ", ")+")")

		args = append(args,
			item.ID, jobID, item.Question, optionsJSON, item.CorrectAnswer,
			item.Explanation, item.Difficulty,
			item.QCStatus.String(), item.ReviewStatus.String(),
			scoresJSON, violationsJSON,
			item.Edited, item.Published, item.PublishedRef,
			item.CreatedAt, item.UpdatedAt,
		)
	}

	query := `
		INSERT INTO quizgen.question_items (
			id, job_id, question, options, correct_answer, explanation, difficulty,
			qc_status, review_status, scores, violations, edited, published, published_ref,
			created_at, updated_at
		) VALUES ` + strings.Join(valueClauses, ", ")

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query, args...)
	if err != nil {
		return 0, WrapError(err, "insert question items")
	}
	return int(tag.RowsAffected()), nil
}

// ListItems returns all items belonging to a job, oldest first.
func (r *PostgresJobRepository) ListItems(ctx context.Context, jobID uuid.UUID) ([]*entity.QuestionItem, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT ` + itemColumns + ` FROM quizgen.question_items WHERE job_id = $1 ORDER BY created_at, id`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, jobID)
	if err != nil {
		return nil, WrapError(err, "list question items")
	}
	defer rows.Close()

	var items []*entity.QuestionItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, WrapError(scanErr, "scan question item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "iterate question items")
	}
	return items, nil
}

// ListItemQuestions returns the question texts stored for a job, oldest first.
func (r *PostgresJobRepository) ListItemQuestions(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}

	query := `SELECT question FROM quizgen.question_items WHERE job_id = $1 ORDER BY created_at, id`

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, jobID)
	if err != nil {
		return nil, WrapError(err, "list item questions")
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var question string
		if err := rows.Scan(&question); err != nil {
			return nil, WrapError(err, "scan item question")
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "iterate item questions")
	}
	return questions, nil
}

// ReplaceItem overwrites a failed item's content with its corrected version.
// The row keeps its id and created_at so ordering is stable; the edited flag
// records that a correction happened.
func (r *PostgresJobRepository) ReplaceItem(
	ctx context.Context,
	itemID uuid.UUID,
	replacement *entity.QuestionItem,
) error {
	if itemID == uuid.Nil || replacement == nil {
		return ErrInvalidArgument
	}

	optionsJSON, err := json.Marshal(replacement.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal replacement options: %w", err)
	}
	scoresJSON, err := marshalNullable(replacement.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal replacement scores: %w", err)
	}

	query := `
		UPDATE quizgen.question_items SET
			question = $2,
			options = $3,
			correct_answer = $4,
			explanation = $5,
			qc_status = $6,
			review_status = $7,
			scores = $8,
			violations = NULL,
			edited = TRUE,
			updated_at = $9
		WHERE id = $1 AND published = FALSE`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query,
		itemID,
		replacement.Question,
		optionsJSON,
		replacement.CorrectAnswer,
		replacement.Explanation,
		replacement.QCStatus.String(),
		replacement.ReviewStatus.String(),
		scoresJSON,
		time.Now(),
	)
	if err != nil {
		return WrapError(err, "replace question item")
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrItemNotFound
	}
	return nil
}

// RemoveItems deletes items flagged as near-duplicates after insertion.
func (r *PostgresJobRepository) RemoveItems(ctx context.Context, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}

	query := `DELETE FROM quizgen.question_items WHERE id = ANY($1) AND published = FALSE`

	qi := GetQueryInterface(ctx, r.pool)
	if _, err := qi.Exec(ctx, query, itemIDs); err != nil {
		return WrapError(err, "remove question items")
	}
	return nil
}

// SetReviewStatus records a human review decision on an item.
func (r *PostgresJobRepository) SetReviewStatus(
	ctx context.Context,
	itemID uuid.UUID,
	status valueobject.ReviewStatus,
) error {
	if itemID == uuid.Nil {
		return ErrInvalidArgument
	}

	query := `
		UPDATE quizgen.question_items SET review_status = $2, updated_at = $3
		WHERE id = $1 AND published = FALSE`

	qi := GetQueryInterface(ctx, r.pool)
	tag, err := qi.Exec(ctx, query, itemID, status.String(), time.Now())
	if err != nil {
		return WrapError(err, "set review status")
	}
	if tag.RowsAffected() == 0 {
		return domainerrors.ErrItemNotFound
	}
	return nil
}

// PublishItems promotes eligible items into the downstream content store in
// one transaction. Already-published items are skipped, which makes retrying a
// partially failed publish safe. Each downstream insert runs under its own
// savepoint so one bad item cannot poison the rest of the batch.
func (r *PostgresJobRepository) PublishItems(
	ctx context.Context,
	jobID uuid.UUID,
	request outbound.PublishRequest,
) (*outbound.PublishResult, error) {
	if jobID == uuid.Nil {
		return nil, ErrInvalidArgument
	}
	if request.Mode == outbound.PublishModeSelected && len(request.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: selected mode requires item ids", ErrInvalidArgument)
	}

	var result *outbound.PublishResult

	err := r.tm.WithTransactionRetry(ctx, publishTxRetries, func(txCtx context.Context) error {
		result = &outbound.PublishResult{}
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
		if !current.CanTransitionTo(valueobject.JobStatusPublishing) {
			return entity.NewDomainError(
				fmt.Sprintf("cannot publish job in status %s", current),
				"INVALID_STATUS_TRANSITION",
			)
		}
		if err := r.setJobStatusInTx(txCtx, jobID, valueobject.JobStatusPublishing, nil); err != nil {
			return err
		}

		candidates, err := r.selectPublishCandidates(txCtx, jobID, request)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, item := range candidates {
			if item.Published {
				result.SkippedCount++
				continue
			}
			if !item.IsEligibleForPublish() {
				result.SkippedCount++
				continue
			}

			ref, publishErr := r.publishOneItem(txCtx, item)
			if publishErr != nil {
				result.FailedCount++
				slogger.Error(txCtx, "Failed to publish item", slogger.Fields{
					"job_id":  jobID.String(),
					"item_id": item.ID.String(),
					"error":   publishErr.Error(),
				})
				continue
			}

			markQuery := `
				UPDATE quizgen.question_items SET published = TRUE, published_ref = $2, updated_at = $3
				WHERE id = $1`
			if _, err := qi.Exec(txCtx, markQuery, item.ID, ref, now); err != nil {
				return WrapError(err, "mark item published")
			}

			result.PublishedCount++
			result.PublishedIDs = append(result.PublishedIDs, item.ID)
		}

		anyPublished := result.PublishedCount > 0
		if !anyPublished {
			countQuery := `SELECT COUNT(*) FROM quizgen.question_items WHERE job_id = $1 AND published = TRUE`
			var publishedBefore int
			if err := qi.QueryRow(txCtx, countQuery, jobID).Scan(&publishedBefore); err != nil {
				return WrapError(err, "count published items")
			}
			anyPublished = publishedBefore > 0
		}

		final := valueobject.JobStatusCompleted
		var publishedAt *time.Time
		if anyPublished {
			final = valueobject.JobStatusPublished
			publishedAt = &now
		}
		if err := r.setJobStatusInTx(txCtx, jobID, final, publishedAt); err != nil {
			return err
		}

		if result.PublishedCount > 0 {
			event := entity.NewJobEvent(jobID, entity.EventTypePublished, map[string]any{
				"published_count": result.PublishedCount,
				"skipped_count":   result.SkippedCount,
				"failed_count":    result.FailedCount,
			})
			if err := r.InsertEvent(txCtx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// publishOneItem runs the downstream insert under a savepoint so a failure
// rolls back only this item's work.
func (r *PostgresJobRepository) publishOneItem(ctx context.Context, item *entity.QuestionItem) (uuid.UUID, error) {
	tx := GetTx(ctx, r.pool)
	if tx == nil {
		// No enclosing transaction; nothing to isolate.
		return r.contentStore.InsertQuestion(ctx, item)
	}

	inner, err := tx.Begin(ctx)
	if err != nil {
		return uuid.Nil, WrapError(err, "begin publish savepoint")
	}

	innerCtx := context.WithValue(ctx, txContextKey{}, inner)
	ref, err := r.contentStore.InsertQuestion(innerCtx, item)
	if err != nil {
		_ = inner.Rollback(ctx)
		return uuid.Nil, err
	}
	if err := inner.Commit(ctx); err != nil {
		return uuid.Nil, WrapError(err, "release publish savepoint")
	}
	return ref, nil
}

// selectPublishCandidates loads the rows the request covers, locked for the
// duration of the transaction.
func (r *PostgresJobRepository) selectPublishCandidates(
	ctx context.Context,
	jobID uuid.UUID,
	request outbound.PublishRequest,
) ([]*entity.QuestionItem, error) {
	var (
		query string
		args  []any
	)
	if request.Mode == outbound.PublishModeSelected {
		query = `SELECT ` + itemColumns + `
			FROM quizgen.question_items
			WHERE job_id = $1 AND id = ANY($2)
			ORDER BY created_at, id
			FOR UPDATE`
		args = []any{jobID, request.ItemIDs}
	} else {
		query = `SELECT ` + itemColumns + `
			FROM quizgen.question_items
			WHERE job_id = $1
			ORDER BY created_at, id
			FOR UPDATE`
		args = []any{jobID}
	}

	qi := GetQueryInterface(ctx, r.pool)
	rows, err := qi.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapError(err, "select publish candidates")
	}
	defer rows.Close()

	var items []*entity.QuestionItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, WrapError(scanErr, "scan publish candidate")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapError(err, "iterate publish candidates")
	}
	return items, nil
}

// setJobStatusInTx writes the status directly; the caller has already locked
// the row and validated the transition.
func (r *PostgresJobRepository) setJobStatusInTx(
	ctx context.Context,
	jobID uuid.UUID,
	status valueobject.JobStatus,
	publishedAt *time.Time,
) error {
	qi := GetQueryInterface(ctx, r.pool)
	now := time.Now()

	if publishedAt != nil {
		query := `
			UPDATE quizgen.generation_jobs
			SET status = $2, published_at = COALESCE(published_at, $3), updated_at = $4
			WHERE id = $1`
		if _, err := qi.Exec(ctx, query, jobID, status.String(), *publishedAt, now); err != nil {
			return WrapError(err, "update job status")
		}
		return nil
	}

	query := `UPDATE quizgen.generation_jobs SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := qi.Exec(ctx, query, jobID, status.String(), now); err != nil {
		return WrapError(err, "update job status")
	}
	return nil
}

// marshalNullable marshals v to JSON, mapping nil values to SQL NULL.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *entity.ScoreCard:
		if val == nil {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// scanItem reconstructs a QuestionItem from a row using itemColumns ordering.
func scanItem(row rowScanner) (*entity.QuestionItem, error) {
	var (
		item                       entity.QuestionItem
		qcStatusStr, reviewStr     string
		optionsJSON                []byte
		scoresJSON, violationsJSON []byte
	)

	err := row.Scan(
		&item.ID, &item.JobID, &item.Question, &optionsJSON, &item.CorrectAnswer,
		&item.Explanation, &item.Difficulty,
		&qcStatusStr, &reviewStr,
		&scoresJSON, &violationsJSON,
		&item.Edited, &item.Published, &item.PublishedRef,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	qcStatus, err := valueobject.NewQCStatus(qcStatusStr)
	if err != nil {
		return nil, err
	}
	item.QCStatus = qcStatus

	reviewStatus, err := valueobject.NewReviewStatus(reviewStr)
	if err != nil {
		return nil, err
	}
	item.ReviewStatus = reviewStatus

	if err := json.Unmarshal(optionsJSON, &item.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item options: %w", err)
	}
	if len(scoresJSON) > 0 {
		item.Scores = &entity.ScoreCard{}
		if err := json.Unmarshal(scoresJSON, item.Scores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item scores: %w", err)
		}
	}
	if len(violationsJSON) > 0 {
		if err := json.Unmarshal(violationsJSON, &item.Violations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item violations: %w", err)
		}
	}
	return &item, nil
}
