package worker

import (
	"errors"
	"testing"

	"quizgen/internal/domain/entity"
	"quizgen/internal/domain/valueobject"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoreCard(total int) *entity.ScoreCard {
	return &entity.ScoreCard{Accuracy: total, Clarity: total, Relevance: total, Total: total}
}

const validBatchJSON = `{
	"questions": [
		{
			"question": "What is the derivative of x^2?",
			"options": ["2x", "x", "x^2", "2"],
			"correct_answer": "2x",
			"explanation": "Power rule.",
			"qc_status": "pass",
			"scores": {"accuracy": 95, "clarity": 90, "relevance": 92, "total": 92}
		},
		{
			"question": "What is the integral of 1/x?",
			"options": ["ln|x|", "1/x^2", "x", "e^x"],
			"correct_answer": "ln|x|",
			"explanation": "Standard integral.",
			"qc_status": "fail",
			"violations": ["explanation too terse"]
		}
	]
}`

func TestParseBatch_StrictJSON(t *testing.T) {
	questions, err := ParseBatch(validBatchJSON)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "What is the derivative of x^2?", questions[0].Question)
	assert.Equal(t, "pass", questions[0].QCStatus)
	assert.Equal(t, 92, questions[0].Scores.Total)
	assert.Equal(t, []string{"explanation too terse"}, questions[1].Violations)
}

func TestParseBatch_FencedCodeBlock(t *testing.T) {
	raw := "Here is the reviewed batch:\n```json\n" + validBatchJSON + "\n```\nLet me know if you need changes."

	questions, err := ParseBatch(raw)
	require.NoError(t, err)
	assert.Len(t, questions, 2)
}

func TestParseBatch_BracketSlice(t *testing.T) {
	raw := "Sure! " + validBatchJSON + " Hope that helps."

	questions, err := ParseBatch(raw)
	require.NoError(t, err)
	assert.Len(t, questions, 2)
}

func TestParseBatch_BareArray(t *testing.T) {
	raw := `[{"question": "q", "options": ["a","b","c","d"], "correct_answer": "a", "qc_status": "pass"}]`

	questions, err := ParseBatch(raw)
	require.NoError(t, err)
	assert.Len(t, questions, 1)
}

func TestParseBatch_Unparseable(t *testing.T) {
	for _, raw := range []string{"", "I could not generate any questions.", "{broken json"} {
		_, err := ParseBatch(raw)
		require.Error(t, err)

		var parseErr *ParseError
		assert.True(t, errors.As(err, &parseErr), "expected ParseError for %q", raw)
	}
}

func TestBuildItems_StructuralDrops(t *testing.T) {
	jobID := uuid.New()
	questions := []rawQuestion{
		{Question: "ok", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a", QCStatus: "pass"},
		{Question: "", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a", QCStatus: "pass"},
		{Question: "bad count", Options: []string{"a", "b"}, CorrectAnswer: "a", QCStatus: "pass"},
		{Question: "answer missing", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "z", QCStatus: "pass"},
	}

	items, dropped := BuildItems(jobID, "medium", questions, 70)

	require.Len(t, items, 1)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, jobID, items[0].JobID)
	assert.Equal(t, "medium", items[0].Difficulty)
}

func TestBuildItems_QCFailedItemsAreKept(t *testing.T) {
	questions := []rawQuestion{
		{Question: "q", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a", QCStatus: "fail", Violations: []string{"unclear"}},
	}

	items, dropped := BuildItems(uuid.New(), "easy", questions, 70)

	require.Len(t, items, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, valueobject.QCStatusFail, items[0].QCStatus)
	assert.Equal(t, valueobject.ReviewStatusPending, items[0].ReviewStatus)
}

func TestBuildItems_OverridesIdenticalOptions(t *testing.T) {
	questions := []rawQuestion{
		{Question: "q", Options: []string{"a", "b", "b", "d"}, CorrectAnswer: "a", QCStatus: "pass"},
	}

	items, dropped := BuildItems(uuid.New(), "easy", questions, 70)

	require.Len(t, items, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, valueobject.QCStatusFail, items[0].QCStatus, "validator pass is advisory")
	assert.NotEmpty(t, items[0].Violations)
}

func TestBuildItems_OverridesLowScoreTotal(t *testing.T) {
	questions := []rawQuestion{
		{
			Question: "q", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "a", QCStatus: "pass",
			Scores: scoreCard(60),
		},
		{
			Question: "q2", Options: []string{"a", "b", "c", "d"}, CorrectAnswer: "b", QCStatus: "pass",
			Scores: scoreCard(85),
		},
	}

	items, _ := BuildItems(uuid.New(), "easy", questions, 70)

	require.Len(t, items, 2)
	assert.Equal(t, valueobject.QCStatusFail, items[0].QCStatus)
	assert.Equal(t, valueobject.QCStatusPass, items[1].QCStatus)
}

func TestBuildItems_TrimsWhitespace(t *testing.T) {
	questions := []rawQuestion{
		{Question: "  q  ", Options: []string{" a ", "b", "c", "d"}, CorrectAnswer: " a ", QCStatus: "pass"},
	}

	items, dropped := BuildItems(uuid.New(), "easy", questions, 70)

	require.Len(t, items, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, "q", items[0].Question)
	assert.Equal(t, "a", items[0].CorrectAnswer)
	assert.Equal(t, "a", items[0].Options[0])
}
