package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"quizgen/internal/domain/entity"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresContentStore writes approved items into the downstream content
// question bank. It reads the transaction from the context, so inserts issued
// during a publish share the publish transaction.
type PostgresContentStore struct {
	pool *pgxpool.Pool
}

// NewPostgresContentStore creates a new PostgreSQL content store.
func NewPostgresContentStore(pool *pgxpool.Pool) *PostgresContentStore {
	return &PostgresContentStore{pool: pool}
}

// InsertQuestion writes one approved item into the content bank and returns
// the new question's reference id.
func (s *PostgresContentStore) InsertQuestion(ctx context.Context, item *entity.QuestionItem) (uuid.UUID, error) {
	if item == nil {
		return uuid.Nil, ErrInvalidArgument
	}

	optionsJSON, err := json.Marshal(item.Options)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal question options: %w", err)
	}

	ref := uuid.New()
	query := `
		INSERT INTO quizgen.content_questions (
			id, source_job_id, source_item_id, question, options, correct_answer,
			explanation, difficulty, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	qi := GetQueryInterface(ctx, s.pool)
	_, err = qi.Exec(ctx, query,
		ref, item.JobID, item.ID, item.Question, optionsJSON,
		item.CorrectAnswer, item.Explanation, item.Difficulty, time.Now(),
	)
	if err != nil {
		return uuid.Nil, WrapError(err, "insert content question")
	}
	return ref, nil
}
