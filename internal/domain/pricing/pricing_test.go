package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateCost_ExactMatch(t *testing.T) {
	calc := NewCalculator()

	// One million input tokens at the listed input rate, no output.
	cost := calc.CalculateCost("gpt-4o", 1_000_000, 0)

	assert.InDelta(t, 2.50, cost.InputCost, 1e-9)
	assert.InDelta(t, 0.0, cost.OutputCost, 1e-9)
	assert.InDelta(t, 2.50, cost.TotalCost, 1e-9)
}

func TestCalculateCost_OutputTokens(t *testing.T) {
	calc := NewCalculator()

	cost := calc.CalculateCost("gpt-4o-mini", 500_000, 250_000)

	assert.InDelta(t, 0.075, cost.InputCost, 1e-9)
	assert.InDelta(t, 0.15, cost.OutputCost, 1e-9)
	assert.InDelta(t, 0.225, cost.TotalCost, 1e-9)
}

func TestRate_LongestPrefixMatch(t *testing.T) {
	calc := NewCalculator()

	// Dated snapshot ids resolve through their base model prefix.
	rate := calc.Rate("gpt-4o-2024-08-06")
	assert.InDelta(t, 2.50, rate.InputPerMillion, 1e-9)

	// "gpt-4o-mini-2024-07-18" must pick the longer "gpt-4o-mini" prefix,
	// not the shorter "gpt-4o".
	rate = calc.Rate("gpt-4o-mini-2024-07-18")
	assert.InDelta(t, 0.15, rate.InputPerMillion, 1e-9)
}

func TestRate_UnknownModelFallsBackToDefault(t *testing.T) {
	calc := NewCalculator()

	rate := calc.Rate("some-future-model")
	assert.InDelta(t, defaultRate.InputPerMillion, rate.InputPerMillion, 1e-9)
	assert.InDelta(t, defaultRate.OutputPerMillion, rate.OutputPerMillion, 1e-9)

	// Unknown models never panic and still produce a cost.
	cost := calc.CalculateCost("some-future-model", 1_000_000, 0)
	assert.InDelta(t, defaultRate.InputPerMillion, cost.TotalCost, 1e-9)
}

func TestCalculateCost_ZeroTokens(t *testing.T) {
	calc := NewCalculator()

	cost := calc.CalculateCost("gpt-4o", 0, 0)
	assert.Zero(t, cost.TotalCost)
}

func TestNewCalculatorFromFile_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	content := []byte(`models:
  gpt-4o:
    input_per_million: 1.00
    output_per_million: 2.00
  custom-model:
    input_per_million: 0.50
    output_per_million: 1.50
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	calc, err := NewCalculatorFromFile(path)
	require.NoError(t, err)

	// Override replaces the built-in entry.
	assert.InDelta(t, 1.00, calc.Rate("gpt-4o").InputPerMillion, 1e-9)
	// New entries are added on top of the built-in table.
	assert.InDelta(t, 0.50, calc.Rate("custom-model").InputPerMillion, 1e-9)
	// Untouched built-ins remain available.
	assert.InDelta(t, 0.15, calc.Rate("gpt-4o-mini").InputPerMillion, 1e-9)
}

func TestNewCalculatorFromFile_MissingFile(t *testing.T) {
	_, err := NewCalculatorFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
