package entity

import (
	"time"

	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
)

// ScoreCard holds the per-dimension scores the validator may attach to an
// item. Total is on a 0-100 scale.
type ScoreCard struct {
	Accuracy  int `json:"accuracy"`
	Clarity   int `json:"clarity"`
	Relevance int `json:"relevance"`
	Total     int `json:"total"`
}

// QuestionItem is one generated content unit belonging to a job. The content
// fields are opaque to the engine beyond structural shape: exactly four
// options, the correct answer among them.
type QuestionItem struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	Question      string
	Options       []string
	CorrectAnswer string
	Explanation   string
	Difficulty    string
	QCStatus      valueobject.QCStatus
	ReviewStatus  valueobject.ReviewStatus
	Scores        *ScoreCard
	Violations    []string
	Edited        bool
	Published     bool
	PublishedRef  *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewQuestionItem creates an item for a job with its review status derived
// from the QC verdict.
func NewQuestionItem(
	jobID uuid.UUID,
	question string,
	options []string,
	correctAnswer string,
	explanation string,
	difficulty string,
	qcStatus valueobject.QCStatus,
) *QuestionItem {
	now := time.Now()
	return &QuestionItem{
		ID:            uuid.New(),
		JobID:         jobID,
		Question:      question,
		Options:       options,
		CorrectAnswer: correctAnswer,
		Explanation:   explanation,
		Difficulty:    difficulty,
		QCStatus:      qcStatus,
		ReviewStatus:  valueobject.DefaultReviewStatus(qcStatus),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RequiredOptionCount is the structural option count every item must carry.
const RequiredOptionCount = 4

// ValidateShape checks the structural invariants the engine relies on.
// Structural failures are distinct from QC failures: a structurally invalid
// item is dropped before persistence, a QC-failed item is kept for review.
func (i *QuestionItem) ValidateShape() error {
	if i.Question == "" {
		return NewDomainError("question text is required", "MISSING_QUESTION")
	}
	if len(i.Options) != RequiredOptionCount {
		return NewDomainError("item must have exactly four options", "INVALID_OPTION_COUNT")
	}
	if i.CorrectAnswer == "" {
		return NewDomainError("correct answer is required", "MISSING_ANSWER")
	}

	matches := 0
	for _, option := range i.Options {
		if option == "" {
			return NewDomainError("options cannot be empty", "EMPTY_OPTION")
		}
		if option == i.CorrectAnswer {
			matches++
		}
	}
	if matches == 0 {
		return NewDomainError("correct answer must be one of the options", "ANSWER_NOT_IN_OPTIONS")
	}
	if matches > 1 {
		return NewDomainError("correct answer text is duplicated among options", "DUPLICATE_ANSWER")
	}
	return nil
}

// Downgrade forces a QC failure recorded by the engine's own checks, keeping
// the violation that triggered it.
func (i *QuestionItem) Downgrade(violation string) {
	i.QCStatus = valueobject.QCStatusFail
	i.ReviewStatus = valueobject.ReviewStatusPending
	i.Violations = append(i.Violations, violation)
	i.UpdatedAt = time.Now()
}

// MarkPublished records a successful publish into the downstream store.
func (i *QuestionItem) MarkPublished(ref uuid.UUID) {
	i.Published = true
	i.PublishedRef = &ref
	i.UpdatedAt = time.Now()
}

// IsEligibleForPublish reports whether the item can be promoted downstream.
func (i *QuestionItem) IsEligibleForPublish() bool {
	return !i.Published &&
		i.QCStatus == valueobject.QCStatusPass &&
		i.ReviewStatus == valueobject.ReviewStatusApproved
}
