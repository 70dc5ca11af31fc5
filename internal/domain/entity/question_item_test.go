package entity

import (
	"testing"

	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
)

func validItem() *QuestionItem {
	return NewQuestionItem(
		uuid.New(),
		"What is 2+2?",
		[]string{"3", "4", "5", "6"},
		"4",
		"Basic addition.",
		"easy",
		valueobject.QCStatusPass,
	)
}

func TestNewQuestionItem_DerivesReviewStatus(t *testing.T) {
	passItem := validItem()
	if passItem.ReviewStatus != valueobject.ReviewStatusApproved {
		t.Errorf("Expected pass item to be approved, got %s", passItem.ReviewStatus)
	}

	failItem := NewQuestionItem(uuid.New(), "q", []string{"a", "b", "c", "d"}, "a", "", "easy", valueobject.QCStatusFail)
	if failItem.ReviewStatus != valueobject.ReviewStatusPending {
		t.Errorf("Expected fail item to be pending review, got %s", failItem.ReviewStatus)
	}
}

func TestQuestionItem_ValidateShape(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*QuestionItem)
		wantErr bool
	}{
		{
			name:    "valid item",
			mutate:  func(*QuestionItem) {},
			wantErr: false,
		},
		{
			name:    "missing question",
			mutate:  func(i *QuestionItem) { i.Question = "" },
			wantErr: true,
		},
		{
			name:    "three options",
			mutate:  func(i *QuestionItem) { i.Options = []string{"3", "4", "5"} },
			wantErr: true,
		},
		{
			name:    "five options",
			mutate:  func(i *QuestionItem) { i.Options = []string{"3", "4", "5", "6", "7"} },
			wantErr: true,
		},
		{
			name:    "empty option",
			mutate:  func(i *QuestionItem) { i.Options[2] = "" },
			wantErr: true,
		},
		{
			name:    "answer not in options",
			mutate:  func(i *QuestionItem) { i.CorrectAnswer = "42" },
			wantErr: true,
		},
		{
			name:    "missing answer",
			mutate:  func(i *QuestionItem) { i.CorrectAnswer = "" },
			wantErr: true,
		},
		{
			name: "answer text duplicated among options",
			mutate: func(i *QuestionItem) {
				i.Options = []string{"4", "4", "5", "6"}
			},
			wantErr: true,
		},
		{
			name: "duplicate distractors allowed structurally",
			mutate: func(i *QuestionItem) {
				i.Options = []string{"3", "4", "3", "6"}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := validItem()
			tt.mutate(item)

			err := item.ValidateShape()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestQuestionItem_Downgrade(t *testing.T) {
	item := validItem()

	item.Downgrade("two or more options are textually identical")

	if item.QCStatus != valueobject.QCStatusFail {
		t.Errorf("Expected qc fail, got %s", item.QCStatus)
	}
	if item.ReviewStatus != valueobject.ReviewStatusPending {
		t.Errorf("Expected pending review, got %s", item.ReviewStatus)
	}
	if len(item.Violations) != 1 {
		t.Errorf("Expected one recorded violation, got %d", len(item.Violations))
	}
}

func TestQuestionItem_PublishEligibility(t *testing.T) {
	item := validItem()
	if !item.IsEligibleForPublish() {
		t.Error("Expected pass+approved item to be eligible")
	}

	item.MarkPublished(uuid.New())
	if item.IsEligibleForPublish() {
		t.Error("Expected published item to be ineligible")
	}
	if !item.Published || item.PublishedRef == nil {
		t.Error("Expected published flag and ref to be set")
	}

	failItem := NewQuestionItem(uuid.New(), "q", []string{"a", "b", "c", "d"}, "a", "", "easy", valueobject.QCStatusFail)
	if failItem.IsEligibleForPublish() {
		t.Error("Expected qc-failed item to be ineligible")
	}

	rejected := validItem()
	rejected.ReviewStatus = valueobject.ReviewStatusRejected
	if rejected.IsEligibleForPublish() {
		t.Error("Expected rejected item to be ineligible")
	}
}
