// Package embedding produces dense vectors for chunk and query text. The
// engine works without one; when configured, vectors are stored on chunks
// and blended into lexical scores by the search index.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

type Embedder interface {
	// EmbedBatch returns one unit-length vector per text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelInfo() string
}

// New builds the embedder selected by cfg. It returns nil, nil when
// embeddings are disabled.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		e, err := NewOpenAIEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vecs))
	}
	return vecs[0], nil
}

func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
