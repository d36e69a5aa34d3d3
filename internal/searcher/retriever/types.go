package retriever

import (
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/config"
)

// Request is one retrieval call. Zero Limit and nil Allocation take the
// configured defaults.
type Request struct {
	CourseID   string
	Query      string
	Limit      int
	Allocation []config.KindShare
	// Hydrate fills Hit.Content from the chunk store.
	Hydrate bool
}

// Hit is one fused result. Score is the per-kind normalised score in [0,1].
type Hit struct {
	ChunkID     string     `json:"chunkId"`
	FileID      string     `json:"fileId"`
	Page        *int       `json:"page,omitempty"`
	Score       float64    `json:"score"`
	Snippet     string     `json:"snippet"`
	Kind        chunk.Kind `json:"kind"`
	Title       string     `json:"title"`
	Heading     string     `json:"heading,omitempty"`
	HeadingPath []string   `json:"headingPath,omitempty"`
	ChunkIndex  int        `json:"chunkIndex"`
	Content     string     `json:"content,omitempty"`
}

type Result struct {
	Chunks        []Hit    `json:"chunks"`
	LowConfidence bool     `json:"lowConfidence"`
	QueryTimeMs   int64    `json:"queryTimeMs"`
	Partial       bool     `json:"partial"`
	FailedKinds   []string `json:"failedKinds"`
}

// TopScore is the best score in r, or 0 when it is empty.
func (r *Result) TopScore() float64 {
	if len(r.Chunks) == 0 {
		return 0
	}
	return r.Chunks[0].Score
}
