package worker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"quizgen/internal/domain/entity"
	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
)

// ParseError indicates the validator output could not be turned into a usable
// batch by any strategy. The batch loop treats it like a failed generation
// call: retry, never crash.
type ParseError struct {
	Strategy string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse batch output (last strategy %s): %v", e.Strategy, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// rawQuestion is the wire shape one reviewed question arrives in.
type rawQuestion struct {
	Question      string            `json:"question"`
	Options       []string          `json:"options"`
	CorrectAnswer string            `json:"correct_answer"`
	Explanation   string            `json:"explanation"`
	QCStatus      string            `json:"qc_status"`
	Scores        *entity.ScoreCard `json:"scores"`
	Violations    []string          `json:"violations"`
}

// rawBatch is the envelope the models are instructed to respond with.
type rawBatch struct {
	Questions []rawQuestion `json:"questions"`
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseBatch extracts reviewed questions from model output. Strategies run in
// order: strict unmarshal, fenced code block, then the widest object or array
// slice found in the text. Model output drifts, so every strategy gets a try
// before giving up.
func ParseBatch(raw string) ([]rawQuestion, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Strategy: "strict", Err: fmt.Errorf("empty output")}
	}

	if questions, err := unmarshalBatch(trimmed); err == nil {
		return questions, nil
	}

	if match := fencedBlockRe.FindStringSubmatch(trimmed); match != nil {
		if questions, err := unmarshalBatch(strings.TrimSpace(match[1])); err == nil {
			return questions, nil
		}
	}

	if slice := widestSlice(trimmed, '{', '}'); slice != "" {
		if questions, err := unmarshalBatch(slice); err == nil {
			return questions, nil
		}
	}
	if slice := widestSlice(trimmed, '[', ']'); slice != "" {
		if questions, err := unmarshalBatch(slice); err == nil {
			return questions, nil
		}
	}

	return nil, &ParseError{Strategy: "bracket-slice", Err: fmt.Errorf("no JSON batch found in output")}
}

// unmarshalBatch accepts either the documented envelope or a bare array.
func unmarshalBatch(text string) ([]rawQuestion, error) {
	var batch rawBatch
	if err := json.Unmarshal([]byte(text), &batch); err == nil && len(batch.Questions) > 0 {
		return batch.Questions, nil
	}

	var questions []rawQuestion
	if err := json.Unmarshal([]byte(text), &questions); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("batch contained no questions")
	}
	return questions, nil
}

// widestSlice returns the substring from the first open delimiter to the last
// close delimiter, or empty when no such slice exists.
func widestSlice(text string, open, clos byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, clos)
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// BuildItems converts parsed questions into persisted-shape items for a job.
// Structurally invalid questions are dropped and counted, never stored. QC
// verdicts from the validator are overridden to fail when the engine's own
// checks catch what the validator missed.
func BuildItems(
	jobID uuid.UUID,
	difficulty string,
	questions []rawQuestion,
	qcPassThreshold int,
) (items []*entity.QuestionItem, dropped int) {
	for _, q := range questions {
		qcStatus := valueobject.QCStatusPass
		if strings.EqualFold(q.QCStatus, valueobject.QCStatusFail.String()) {
			qcStatus = valueobject.QCStatusFail
		}

		item := entity.NewQuestionItem(
			jobID,
			strings.TrimSpace(q.Question),
			trimAll(q.Options),
			strings.TrimSpace(q.CorrectAnswer),
			strings.TrimSpace(q.Explanation),
			difficulty,
			qcStatus,
		)
		item.Scores = q.Scores
		item.Violations = q.Violations

		if err := item.ValidateShape(); err != nil {
			dropped++
			continue
		}

		applyQCOverrides(item, qcPassThreshold)
		items = append(items, item)
	}
	return items, dropped
}

// applyQCOverrides downgrades items the validator passed but the engine's
// structural checks disagree with.
func applyQCOverrides(item *entity.QuestionItem, qcPassThreshold int) {
	if item.QCStatus == valueobject.QCStatusFail {
		return
	}

	if hasIdenticalOptions(item.Options) {
		item.Downgrade("two or more options are textually identical")
		return
	}
	if item.Scores != nil && item.Scores.Total < qcPassThreshold {
		item.Downgrade(fmt.Sprintf("score total %d below pass threshold %d", item.Scores.Total, qcPassThreshold))
	}
}

func hasIdenticalOptions(options []string) bool {
	seen := make(map[string]bool, len(options))
	for _, option := range options {
		if seen[option] {
			return true
		}
		seen[option] = true
	}
	return false
}

func trimAll(values []string) []string {
	trimmed := make([]string, len(values))
	for i, v := range values {
		trimmed[i] = strings.TrimSpace(v)
	}
	return trimmed
}
