package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases and collapses whitespace",
			input:    "What  Is   The\tDerivative",
			expected: "what is the derivative",
		},
		{
			name:     "strips punctuation",
			input:    "What is 2+2? (Choose one.)",
			expected: "what is 2 2 choose one",
		},
		{
			name:     "strips dollar-delimited math",
			input:    "Solve $x^2 + 1 = 0$ for x",
			expected: "solve for x",
		},
		{
			name:     "strips backslash-paren math",
			input:    `Evaluate \(\int_0^1 x\,dx\) carefully`,
			expected: "evaluate carefully",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.input))
		})
	}
}

func TestFindDuplicates_WhitespaceCaseAndMathVariants(t *testing.T) {
	existing := []string{
		"What is the derivative of $x^2$ with respect to x?",
	}
	candidates := []string{
		// Same question, different case, spacing and math delimiters.
		"what  is the DERIVATIVE of \\(x^2\\) with respect to x",
		// Unrelated question.
		"Which planet is closest to the sun?",
	}

	duplicates := FindDuplicates(candidates, existing, DefaultThreshold)

	assert.Equal(t, []int{0}, duplicates)
}

func TestFindDuplicates_UnrelatedQuestionsNotFlagged(t *testing.T) {
	existing := []string{
		"What is the capital of France?",
		"Which gas do plants absorb during photosynthesis?",
	}
	candidates := []string{
		"Solve the quadratic equation x squared minus four equals zero",
		"Who wrote the novel War and Peace?",
	}

	duplicates := FindDuplicates(candidates, existing, DefaultThreshold)

	assert.Empty(t, duplicates)
}

func TestFindDuplicates_EmptyInputs(t *testing.T) {
	assert.Nil(t, FindDuplicates(nil, []string{"anything"}, DefaultThreshold))
	assert.Nil(t, FindDuplicates([]string{"anything"}, nil, DefaultThreshold))
	assert.Nil(t, FindDuplicates(nil, nil, DefaultThreshold))
}

func TestFindDuplicates_ExactCopy(t *testing.T) {
	existing := []string{"Name the largest ocean on Earth"}
	candidates := []string{"Name the largest ocean on Earth"}

	duplicates := FindDuplicates(candidates, existing, DefaultThreshold)

	assert.Equal(t, []int{0}, duplicates)
}

func TestFindDuplicates_ZeroThresholdUsesDefault(t *testing.T) {
	existing := []string{"What is the capital of France?"}
	candidates := []string{"Completely different topic about cell biology"}

	duplicates := FindDuplicates(candidates, existing, 0)

	assert.Empty(t, duplicates)
}
