package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quizgen/internal/application/common/retry"
	"quizgen/internal/config"
	"quizgen/internal/domain/valueobject"
	"quizgen/internal/port/outbound"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// defaultRequestTimeout bounds one chat completion call.
	defaultRequestTimeout = 2 * time.Minute

	generationTemperature = 0.7
	validationTemperature = 0.0
)

// ErrAPIKeyNotSet indicates the client was built without credentials.
var ErrAPIKeyNotSet = errors.New("OpenAI API key not set")

// ErrEmptyCompletion indicates the API returned no choices.
var ErrEmptyCompletion = errors.New("completion returned no choices")

// OpenAIClient implements both the Generator and Validator ports over the
// OpenAI chat completions API. Retries with backoff are handled by the shared
// retry executor; rate limits and transient server errors are retryable,
// everything else surfaces immediately.
type OpenAIClient struct {
	client          openai.Client
	generationModel string
	qcModel         string
	timeout         time.Duration
	retrier         *retry.RetryExecutor
}

// NewOpenAIClient creates a client from configuration.
func NewOpenAIClient(cfg config.OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	retryConfig := retry.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryConfig.MaxRetries = cfg.MaxRetries
	}

	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		generationModel: cfg.GenerationModel,
		qcModel:         cfg.QCModel,
		timeout:         timeout,
		retrier:         retry.NewRetryExecutor(retryConfig),
	}, nil
}

// Generate produces a raw candidate batch for the requested parameters.
func (c *OpenAIClient) Generate(
	ctx context.Context,
	request outbound.GenerationRequest,
) (string, valueobject.TokenUsage, error) {
	model := request.Model
	if model == "" {
		model = c.generationModel
	}
	return c.complete(ctx, model, generationTemperature, buildGenerationPrompt(request))
}

// Correct asks for fixed versions of specifically failed items.
func (c *OpenAIClient) Correct(
	ctx context.Context,
	request outbound.CorrectionRequest,
) (string, valueobject.TokenUsage, error) {
	model := request.Model
	if model == "" {
		model = c.generationModel
	}
	return c.complete(ctx, model, generationTemperature, buildCorrectionPrompt(request))
}

// Validate runs quality control over a raw generated batch.
func (c *OpenAIClient) Validate(
	ctx context.Context,
	rawBatch string,
	model string,
) (string, valueobject.TokenUsage, error) {
	if model == "" {
		model = c.qcModel
	}
	return c.complete(ctx, model, validationTemperature, buildValidationPrompt(rawBatch))
}

func (c *OpenAIClient) complete(
	ctx context.Context,
	model string,
	temperature float64,
	prompt string,
) (string, valueobject.TokenUsage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		content string
		usage   valueobject.TokenUsage
	)

	err := c.retrier.Execute(callCtx, func(ctx context.Context) error {
		completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(temperature),
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{Type: "json_object"},
			},
		})
		if err != nil {
			return classifyAPIError(err)
		}
		if len(completion.Choices) == 0 {
			return ErrEmptyCompletion
		}

		content = completion.Choices[0].Message.Content
		usage = valueobject.NewTokenUsage(
			int(completion.Usage.PromptTokens),
			int(completion.Usage.CompletionTokens),
		)
		return nil
	})
	if err != nil {
		return "", valueobject.TokenUsage{}, fmt.Errorf("chat completion failed for model %s: %w", model, err)
	}
	return content, usage, nil
}

// classifyAPIError rewraps API errors so the retry checker's pattern matching
// sees the status class.
func classifyAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("rate limit exceeded: %w", err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("service unavailable: %w", err)
		}
	}
	return err
}

func buildGenerationPrompt(request outbound.GenerationRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Generate exactly %d multiple-choice questions", request.Count)
	if request.Topic != "" {
		fmt.Fprintf(&b, " on the topic %q", request.Topic)
	}
	if request.Chapter != "" {
		fmt.Fprintf(&b, " from the chapter %q", request.Chapter)
	}
	if request.Subject != "" {
		fmt.Fprintf(&b, " of the subject %q", request.Subject)
	}
	fmt.Fprintf(&b, " at %s difficulty.\n\n", request.Difficulty)

	b.WriteString("Each question must have exactly 4 distinct options and exactly one correct answer that appears among the options, plus a short explanation.\n")

	writeDistribution(&b, "cognitive level", request.CognitiveDistribution)
	writeDistribution(&b, "question type", request.QuestionTypeDistribution)

	if len(request.AvoidList) > 0 {
		b.WriteString("\nDo NOT repeat or closely paraphrase any of these existing questions:\n")
		for _, question := range request.AvoidList {
			fmt.Fprintf(&b, "- %s\n", question)
		}
	}

	b.WriteString("\nRespond with a JSON object of the form ")
	b.WriteString(`{"questions": [{"question": "...", "options": ["...", "...", "...", "..."], "correct_answer": "...", "explanation": "..."}]}`)
	b.WriteString(" and nothing else.")

	return b.String()
}

func buildCorrectionPrompt(request outbound.CorrectionRequest) string {
	var b strings.Builder

	b.WriteString("The following multiple-choice questions failed quality control. Rewrite each one so it fixes every listed violation while keeping the same topic and difficulty.\n\n")

	for i, item := range request.Items {
		fmt.Fprintf(&b, "Question %d: %s\n", i+1, item.Question)
		fmt.Fprintf(&b, "Options: %s\n", strings.Join(item.Options, " | "))
		fmt.Fprintf(&b, "Correct answer: %s\n", item.CorrectAnswer)
		if len(item.Violations) > 0 {
			fmt.Fprintf(&b, "Violations: %s\n", strings.Join(item.Violations, "; "))
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with a JSON object of the form ")
	b.WriteString(`{"questions": [{"question": "...", "options": ["...", "...", "...", "..."], "correct_answer": "...", "explanation": "..."}]}`)
	b.WriteString(" containing one corrected question per input, in order, and nothing else.")

	return b.String()
}

func buildValidationPrompt(rawBatch string) string {
	var b strings.Builder

	b.WriteString("You are a quality control reviewer for multiple-choice questions. Review every question in the batch below for factual accuracy, clarity, and relevance.\n\n")
	b.WriteString("Batch:\n")
	b.WriteString(rawBatch)
	b.WriteString("\n\nFor each question return its content unchanged plus your verdict. Respond with a JSON object of the form ")
	b.WriteString(`{"questions": [{"question": "...", "options": ["...", "...", "...", "..."], "correct_answer": "...", "explanation": "...", "qc_status": "pass" or "fail", "scores": {"accuracy": 0-100, "clarity": 0-100, "relevance": 0-100, "total": 0-100}, "violations": ["..."]}]}`)
	b.WriteString(" and nothing else. A question passes only if its total score is 70 or above and it has no violations.")

	return b.String()
}

func writeDistribution(b *strings.Builder, label string, distribution map[string]int) {
	if len(distribution) == 0 {
		return
	}
	fmt.Fprintf(b, "\nTarget %s distribution:\n", label)
	for key, count := range distribution {
		fmt.Fprintf(b, "- %s: %d\n", key, count)
	}
}
