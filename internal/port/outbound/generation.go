package outbound

import (
	"context"

	"quizgen/internal/domain/valueobject"
)

// GenerationRequest asks the generator for a batch of raw candidates.
// AvoidList carries previously generated question stems so the generator can
// steer away from repeats.
type GenerationRequest struct {
	Topic                    string
	Subject                  string
	Chapter                  string
	Difficulty               string
	Count                    int
	AvoidList                []string
	CognitiveDistribution    map[string]int
	QuestionTypeDistribution map[string]int
	Model                    string
}

// CorrectionRequest asks for fixes to specifically failed items. Each entry
// pairs an item's content with the violations recorded against it.
type CorrectionRequest struct {
	Items []CorrectionItem
	Model string
}

// CorrectionItem is one failed item submitted for correction.
type CorrectionItem struct {
	Question      string
	Options       []string
	CorrectAnswer string
	Explanation   string
	Violations    []string
}

// Generator produces raw candidate batches. The engine treats the returned
// text as opaque beyond token accounting; the validator's output is what gets
// parsed into items.
type Generator interface {
	Generate(ctx context.Context, request GenerationRequest) (string, valueobject.TokenUsage, error)
	Correct(ctx context.Context, request CorrectionRequest) (string, valueobject.TokenUsage, error)
}

// Validator runs quality control over a raw generated batch and returns the
// raw QC text the engine parses into structured items.
type Validator interface {
	Validate(ctx context.Context, rawBatch string, model string) (string, valueobject.TokenUsage, error)
}
