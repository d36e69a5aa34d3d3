// Package indexer provides the lexical search index over chunks. The
// default Engine keeps an inverted index in memory and is rebuilt from the
// chunk store; pgindex offers the same contract on PostgreSQL full-text
// search.
package indexer

import (
	"context"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
)

// SearchIndex is a derived, rebuildable index. The chunk store stays the
// source of truth; an index entry must never outlive its chunk.
type SearchIndex interface {
	// IndexChunks adds or overwrites entries by chunk id.
	IndexChunks(ctx context.Context, chunks []chunk.Chunk) error
	DeleteByFile(ctx context.Context, fileID string) error
	DeleteChunks(ctx context.Context, ids []string) error
	Search(ctx context.Context, q Query) (*SearchResult, error)
	Stats(ctx context.Context) (Stats, error)
}

// Query is one filtered lexical search. CourseID is required; empty Kind
// and FileID match everything.
type Query struct {
	Text      string
	CourseID  string
	Kind      chunk.Kind
	FileID    string
	Limit     int
	Offset    int
	Embedding []float32
}

type ScoredHit struct {
	ChunkID     string     `json:"chunk_id"`
	CourseID    string     `json:"course_id"`
	FileID      string     `json:"file_id"`
	Kind        chunk.Kind `json:"kind"`
	Title       string     `json:"title"`
	Heading     string     `json:"heading,omitempty"`
	HeadingPath []string   `json:"heading_path,omitempty"`
	Page        *int       `json:"page,omitempty"`
	ChunkIndex  int        `json:"chunk_index"`
	Score       float64    `json:"score"`
	Snippet     string     `json:"snippet"`
}

// SearchResult holds one page of hits ordered by score desc, chunk index
// asc, chunk id asc. MaxScore is the scorer's upper bound for this query,
// or 0 when it has none.
type SearchResult struct {
	Hits     []ScoredHit `json:"hits"`
	MaxScore float64     `json:"max_score"`
	Total    int         `json:"total"`
}

type Stats struct {
	Chunks int `json:"chunks"`
	Terms  int `json:"terms"`
}
