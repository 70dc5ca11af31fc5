package valueobject

// TokenUsage tracks LLM token consumption for a call, a batch, or a whole job.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewTokenUsage creates a TokenUsage with the total derived from its parts.
func NewTokenUsage(inputTokens, outputTokens int) TokenUsage {
	return TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}
}

// Add returns the sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// IsZero returns true if no tokens were consumed.
func (u TokenUsage) IsZero() bool {
	return u.TotalTokens == 0 && u.InputTokens == 0 && u.OutputTokens == 0
}

// CostBreakdown tracks accumulated USD cost split by token direction.
type CostBreakdown struct {
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
	TotalCost  float64 `json:"total_cost"`
}

// Add returns the sum of two cost breakdowns.
func (c CostBreakdown) Add(other CostBreakdown) CostBreakdown {
	return CostBreakdown{
		InputCost:  c.InputCost + other.InputCost,
		OutputCost: c.OutputCost + other.OutputCost,
		TotalCost:  c.TotalCost + other.TotalCost,
	}
}
