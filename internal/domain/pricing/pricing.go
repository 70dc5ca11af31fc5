// Package pricing computes LLM API cost from token counts. The calculation
// is deterministic and side-effect-free so it can be used both for live cost
// accumulation on jobs and for offline reporting.
package pricing

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"quizgen/internal/domain/valueobject"

	"gopkg.in/yaml.v3"
)

// ModelRate holds USD prices per one million tokens for a model.
type ModelRate struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

const tokensPerMillion = 1_000_000.0

// defaultRate is the conservative fallback applied when a model id matches
// nothing in the table, so an unknown model inflates rather than hides cost.
var defaultRate = ModelRate{
	InputPerMillion:  5.00,
	OutputPerMillion: 15.00,
}

// defaultRates is the built-in rate table. Keys are matched exactly first,
// then by longest prefix, so dated snapshots like "gpt-4o-2024-08-06" pick up
// the "gpt-4o" rate without their own entry.
var defaultRates = map[string]ModelRate{
	"gpt-4o":        {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":   {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"gpt-4.1":       {InputPerMillion: 2.00, OutputPerMillion: 8.00},
	"gpt-4.1-mini":  {InputPerMillion: 0.40, OutputPerMillion: 1.60},
	"gpt-4.1-nano":  {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"o3-mini":       {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	"gemini-2.0-flash": {
		InputPerMillion:  0.10,
		OutputPerMillion: 0.40,
	},
	"gemini-1.5-pro": {
		InputPerMillion:  1.25,
		OutputPerMillion: 5.00,
	},
}

// Calculator resolves model rates and computes costs.
type Calculator struct {
	rates    map[string]ModelRate
	fallback ModelRate
	// prefixes are the table keys sorted longest-first for prefix matching.
	prefixes []string
}

// NewCalculator creates a Calculator over the built-in rate table.
func NewCalculator() *Calculator {
	return NewCalculatorWithRates(defaultRates)
}

// NewCalculatorWithRates creates a Calculator over a custom rate table.
func NewCalculatorWithRates(rates map[string]ModelRate) *Calculator {
	merged := make(map[string]ModelRate, len(rates))
	for model, rate := range rates {
		merged[model] = rate
	}

	prefixes := make([]string, 0, len(merged))
	for model := range merged {
		prefixes = append(prefixes, model)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		if len(prefixes[i]) != len(prefixes[j]) {
			return len(prefixes[i]) > len(prefixes[j])
		}
		return prefixes[i] < prefixes[j]
	})

	return &Calculator{
		rates:    merged,
		fallback: defaultRate,
		prefixes: prefixes,
	}
}

// ratesFile mirrors the YAML override file layout.
type ratesFile struct {
	Models map[string]ModelRate `yaml:"models"`
}

// NewCalculatorFromFile creates a Calculator whose table is the built-in one
// overlaid with entries from a YAML file.
func NewCalculatorFromFile(path string) (*Calculator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}

	var file ratesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pricing file: %w", err)
	}

	merged := make(map[string]ModelRate, len(defaultRates)+len(file.Models))
	for model, rate := range defaultRates {
		merged[model] = rate
	}
	for model, rate := range file.Models {
		merged[model] = rate
	}
	return NewCalculatorWithRates(merged), nil
}

// Rate resolves the rate for a model id: exact match, else longest-prefix
// match, else the conservative default.
func (c *Calculator) Rate(model string) ModelRate {
	if rate, ok := c.rates[model]; ok {
		return rate
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(model, prefix) {
			return c.rates[prefix]
		}
	}
	return c.fallback
}

// CalculateCost computes the cost breakdown for a call against a model.
func (c *Calculator) CalculateCost(model string, inputTokens, outputTokens int) valueobject.CostBreakdown {
	rate := c.Rate(model)

	inputCost := float64(inputTokens) / tokensPerMillion * rate.InputPerMillion
	outputCost := float64(outputTokens) / tokensPerMillion * rate.OutputPerMillion

	return valueobject.CostBreakdown{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost + outputCost,
	}
}

// CalculateUsageCost computes the cost breakdown for an accumulated usage.
func (c *Calculator) CalculateUsageCost(model string, usage valueobject.TokenUsage) valueobject.CostBreakdown {
	return c.CalculateCost(model, usage.InputTokens, usage.OutputTokens)
}
