package embedding

import (
	"context"
	"hash/fnv"

	"github.com/lazypower/mnemo/internal/sector"
)

// HashEmbedder is a deterministic local embedder using feature hashing over
// word tokens and their character trigrams. It needs no model or network,
// and texts sharing vocabulary land close together. Each sector hashes
// with its own salt, so the five spaces are independent.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a hashing embedder with the given dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Model() string  { return "hash" }
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed implements Embedder. It never fails.
func (h *HashEmbedder) Embed(_ context.Context, text string, s sector.Sector) (Vector, error) {
	vec := make(Vector, h.dims)
	for _, tok := range tokenize(text) {
		vec[h.bucket(s, "w:"+tok)] += 1.0
		padded := "^" + tok + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			vec[h.bucket(s, "t:"+string(runes[i:i+3]))] += 0.5
		}
	}
	if isZero(vec) {
		// Content with no tokens still needs a direction.
		vec[h.bucket(s, "empty")] = 1
	}
	Normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) bucket(s sector.Sector, feature string) int {
	f := fnv.New32a()
	f.Write([]byte(s))
	f.Write([]byte{0})
	f.Write([]byte(feature))
	return int(f.Sum32() % uint32(h.dims))
}
