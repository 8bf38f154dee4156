// Package embedding produces per-sector vectors for memory content.
//
// Every provider satisfies Embedder. Guard wraps a provider with the
// timeout and dimensionality checks the engine relies on, and Cached adds a
// ristretto-backed cache in front of it.
package embedding

import (
	"context"
	"math"
	"strings"

	"github.com/lazypower/mnemo/internal/sector"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder turns text into a vector in a sector-specific space.
type Embedder interface {
	Embed(ctx context.Context, text string, s sector.Sector) (Vector, error)
	Model() string
	Dimensions() int
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize performs in-place L2 normalization.
func Normalize(vec Vector) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

func isZero(vec Vector) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// tokenize splits text into lowercase tokens, stripping punctuation.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r > 127 {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 { // skip single-char tokens
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
