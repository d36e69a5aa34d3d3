package embedding

import (
	"context"
	"hash/fnv"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/tokenizer"
)

const defaultHashDimension = 256

// HashEmbedder maps stemmed terms into a fixed number of signed buckets. It
// needs no network and is deterministic, so texts sharing vocabulary end up
// with a positive cosine.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = defaultHashDimension
	}
	return &HashEmbedder{dim: dimension}
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, term := range tokenizer.Terms(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	l2normalize(vec)
	return vec
}

func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) ModelInfo() string { return "hash-terms-v1" }
