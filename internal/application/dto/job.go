package dto

import (
	"time"

	"github.com/google/uuid"
)

// CreateJobRequest is the external job creation contract.
type CreateJobRequest struct {
	SubjectID                uuid.UUID      `json:"subject_id"                           validate:"required"`
	ChapterID                uuid.UUID      `json:"chapter_id"                           validate:"required"`
	TopicID                  *uuid.UUID     `json:"topic_id,omitempty"`
	Difficulty               string         `json:"difficulty"                           validate:"required"`
	Count                    int            `json:"count"                                validate:"required,min=1"`
	RequestedBy              string         `json:"requested_by"                         validate:"required"`
	CognitiveDistribution    map[string]int `json:"cognitive_distribution,omitempty"`
	QuestionTypeDistribution map[string]int `json:"question_type_distribution,omitempty"`
	GenerationModelOverride  string         `json:"generation_model_override,omitempty"`
	QCModelOverride          string         `json:"qc_model_override,omitempty"`
}

// TokenUsageResponse mirrors a job's accumulated token usage.
type TokenUsageResponse struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CostResponse mirrors a job's accumulated cost.
type CostResponse struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// JobErrorResponse mirrors the structured error on a failed job.
type JobErrorResponse struct {
	Message      string `json:"message"`
	TraceSummary string `json:"trace_summary,omitempty"`
}

// JobResponse represents the response containing generation job information.
type JobResponse struct {
	ID              uuid.UUID          `json:"id"`
	Status          string             `json:"status"`
	RequestedCount  int                `json:"requested_count"`
	GeneratedCount  int                `json:"generated_count"`
	PassedCount     int                `json:"passed_count"`
	FailedCount     int                `json:"failed_count"`
	ProgressPercent int                `json:"progress_percent"`
	TokenUsage      TokenUsageResponse `json:"token_usage"`
	Cost            CostResponse       `json:"cost"`
	RetryCount      int                `json:"retry_count"`
	Error           *JobErrorResponse  `json:"error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	PublishedAt     *time.Time         `json:"published_at,omitempty"`
	Duration        *string            `json:"duration,omitempty"` // Human-readable duration
}

// JobListQuery represents query parameters for listing jobs.
type JobListQuery struct {
	Status string `form:"status" validate:"omitempty"`
	Limit  int    `form:"limit"  validate:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}

// DefaultJobListQuery returns default values for the job list query.
func DefaultJobListQuery() JobListQuery {
	return JobListQuery{
		Limit:  20,
		Offset: 0,
	}
}

// PaginationResponse carries paging metadata for list responses.
type PaginationResponse struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// JobListResponse represents the response for listing jobs.
type JobListResponse struct {
	Jobs       []JobResponse      `json:"jobs"`
	Pagination PaginationResponse `json:"pagination"`
}

// ItemResponse represents one generated item.
type ItemResponse struct {
	ID            uuid.UUID  `json:"id"`
	JobID         uuid.UUID  `json:"job_id"`
	Question      string     `json:"question"`
	Options       []string   `json:"options"`
	CorrectAnswer string     `json:"correct_answer"`
	Explanation   string     `json:"explanation,omitempty"`
	Difficulty    string     `json:"difficulty,omitempty"`
	QCStatus      string     `json:"qc_status"`
	ReviewStatus  string     `json:"review_status"`
	Violations    []string   `json:"violations,omitempty"`
	Edited        bool       `json:"edited"`
	Published     bool       `json:"published"`
	PublishedRef  *uuid.UUID `json:"published_ref,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// PublishRequest selects items to publish.
type PublishRequest struct {
	Mode    string      `json:"mode"               validate:"required,oneof=selected all_approved"`
	ItemIDs []uuid.UUID `json:"item_ids,omitempty"`
}

// PublishResponse summarizes a publish call.
type PublishResponse struct {
	JobID          uuid.UUID   `json:"job_id"`
	Status         string      `json:"status"`
	PublishedCount int         `json:"published_count"`
	SkippedCount   int         `json:"skipped_count"`
	FailedCount    int         `json:"failed_count"`
	PublishedIDs   []uuid.UUID `json:"published_ids,omitempty"`
}

// EventResponse represents one audit event.
type EventResponse struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
