package common

import (
	"time"

	"quizgen/internal/application/dto"
	"quizgen/internal/domain/entity"
)

// durationPrecision is the rounding applied to human-readable durations.
const durationPrecision = time.Second

// EntityToJobResponse converts a GenerationJob entity to its response DTO.
func EntityToJobResponse(job *entity.GenerationJob) *dto.JobResponse {
	response := &dto.JobResponse{
		ID:              job.ID(),
		Status:          job.Status().String(),
		RequestedCount:  job.RequestedCount(),
		GeneratedCount:  job.GeneratedCount(),
		PassedCount:     job.PassedCount(),
		FailedCount:     job.FailedCount(),
		ProgressPercent: job.ProgressPercent(),
		TokenUsage: dto.TokenUsageResponse{
			InputTokens:  job.TokenUsage().InputTokens,
			OutputTokens: job.TokenUsage().OutputTokens,
			TotalTokens:  job.TokenUsage().TotalTokens,
		},
		Cost: dto.CostResponse{
			InputCost:  job.Cost().InputCost,
			OutputCost: job.Cost().OutputCost,
			TotalCost:  job.Cost().TotalCost,
		},
		RetryCount:  job.RetryCount(),
		CreatedAt:   job.CreatedAt(),
		UpdatedAt:   job.UpdatedAt(),
		StartedAt:   job.StartedAt(),
		CompletedAt: job.CompletedAt(),
		PublishedAt: job.PublishedAt(),
	}

	if jobError := job.Error(); jobError != nil {
		response.Error = &dto.JobErrorResponse{
			Message:      jobError.Message,
			TraceSummary: jobError.TraceSummary,
		}
	}
	if duration := job.Duration(); duration != nil {
		formatted := duration.Round(durationPrecision).String()
		response.Duration = &formatted
	}
	return response
}

// EntityToItemResponse converts a QuestionItem entity to its response DTO.
func EntityToItemResponse(item *entity.QuestionItem) dto.ItemResponse {
	return dto.ItemResponse{
		ID:            item.ID,
		JobID:         item.JobID,
		Question:      item.Question,
		Options:       item.Options,
		CorrectAnswer: item.CorrectAnswer,
		Explanation:   item.Explanation,
		Difficulty:    item.Difficulty,
		QCStatus:      item.QCStatus.String(),
		ReviewStatus:  item.ReviewStatus.String(),
		Violations:    item.Violations,
		Edited:        item.Edited,
		Published:     item.Published,
		PublishedRef:  item.PublishedRef,
		CreatedAt:     item.CreatedAt,
	}
}

// EntityToEventResponse converts a JobEvent to its response DTO.
func EntityToEventResponse(event *entity.JobEvent) dto.EventResponse {
	return dto.EventResponse{
		ID:        event.ID,
		JobID:     event.JobID,
		Type:      string(event.Type),
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}
}
