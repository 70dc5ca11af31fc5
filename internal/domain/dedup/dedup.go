// Package dedup flags near-duplicate generated questions via term-frequency /
// inverse-document-frequency cosine similarity. It is pure and best-effort:
// empty inputs yield an empty result, and callers treat dedup as advisory.
package dedup

import (
	"math"
	"regexp"
	"strings"
)

// DefaultThreshold is the similarity at or above which a candidate is
// considered a duplicate of an existing question.
const DefaultThreshold = 0.80

var (
	// Inline and display math blocks carry no lexical signal and vary
	// between otherwise identical generations.
	inlineMathRe  = regexp.MustCompile(`\$[^$]*\$`)
	parenMathRe   = regexp.MustCompile(`\\\([\s\S]*?\\\)`)
	bracketMathRe = regexp.MustCompile(`\\\[[\s\S]*?\\\]`)
	punctRe       = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

// Normalize reduces question text to a comparison key: math blocks and
// punctuation stripped, lowercased, whitespace collapsed.
func Normalize(text string) string {
	text = inlineMathRe.ReplaceAllString(text, " ")
	text = parenMathRe.ReplaceAllString(text, " ")
	text = bracketMathRe.ReplaceAllString(text, " ")
	text = punctRe.ReplaceAllString(text, " ")
	text = strings.ToLower(text)
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// FindDuplicates returns the indices of candidates whose maximum cosine
// similarity against any existing text meets the threshold. Indices refer to
// the candidates slice. A nil or empty corpus yields no duplicates.
func FindDuplicates(candidates, existing []string, threshold float64) []int {
	if len(candidates) == 0 || len(existing) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	corpus := make([][]string, 0, len(existing)+len(candidates))
	for _, text := range existing {
		corpus = append(corpus, tokenize(Normalize(text)))
	}
	for _, text := range candidates {
		corpus = append(corpus, tokenize(Normalize(text)))
	}

	idf := inverseDocumentFrequencies(corpus)

	existingVecs := make([]map[string]float64, len(existing))
	for i := range existing {
		existingVecs[i] = vectorize(corpus[i], idf)
	}

	var duplicates []int
	for i := range candidates {
		candidate := vectorize(corpus[len(existing)+i], idf)
		for _, vec := range existingVecs {
			if cosineSimilarity(candidate, vec) >= threshold {
				duplicates = append(duplicates, i)
				break
			}
		}
	}
	return duplicates
}

// tokenize splits a normalized text into terms.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

// inverseDocumentFrequencies computes smoothed IDF weights over the corpus.
func inverseDocumentFrequencies(corpus [][]string) map[string]float64 {
	documentCounts := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			if !seen[term] {
				seen[term] = true
				documentCounts[term]++
			}
		}
	}

	total := float64(len(corpus))
	idf := make(map[string]float64, len(documentCounts))
	for term, count := range documentCounts {
		idf[term] = math.Log((1+total)/(1+float64(count))) + 1
	}
	return idf
}

// vectorize builds a TF-IDF weighted term vector for one document.
func vectorize(doc []string, idf map[string]float64) map[string]float64 {
	if len(doc) == 0 {
		return nil
	}

	frequencies := make(map[string]int, len(doc))
	for _, term := range doc {
		frequencies[term]++
	}

	vec := make(map[string]float64, len(frequencies))
	for term, count := range frequencies {
		vec[term] = float64(count) / float64(len(doc)) * idf[term]
	}
	return vec
}

// cosineSimilarity computes the cosine of two sparse term vectors.
func cosineSimilarity(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Iterate over the smaller vector for the dot product.
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64
	for term, weight := range a {
		if other, ok := b[term]; ok {
			dot += weight * other
		}
	}
	if dot == 0 {
		return 0
	}

	var normA, normB float64
	for _, weight := range a {
		normA += weight * weight
	}
	for _, weight := range b {
		normB += weight * weight
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
