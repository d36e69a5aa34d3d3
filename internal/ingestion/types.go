// Package ingestion defines the request, result and Kafka event schemas of
// the chunk ingestion pipeline.
package ingestion

import "time"

// Status is the outcome of one ingestion run.
type Status string

const (
	StatusIndexed   Status = "indexed"
	StatusUnchanged Status = "unchanged"
	// StatusDegraded means the chunk store holds the new set but the search
	// index could not be updated.
	StatusDegraded Status = "degraded"
	// StatusDeleted only appears on IndexCompleteEvent.
	StatusDeleted Status = "deleted"
)

// Segment is one piece of pre-extracted text with its structural context.
// HeadingPath, when set, replaces the active heading stack; Heading with
// Level opens a new section at that depth.
type Segment struct {
	Text        string   `json:"text"`
	Page        *int     `json:"page,omitempty"`
	Heading     string   `json:"heading,omitempty"`
	Level       int      `json:"level,omitempty"`
	HeadingPath []string `json:"headingPath,omitempty"`
}

// Request asks the pipeline to (re)ingest one file.
type Request struct {
	FileID         string    `json:"fileId"`
	CourseID       string    `json:"courseId"`
	Kind           string    `json:"kind"`
	SourcePlatform string    `json:"sourcePlatform,omitempty"`
	Title          string    `json:"title,omitempty"`
	Segments       []Segment `json:"segments"`
	ContentHash    string    `json:"contentHash,omitempty"`
	OCRUsed        bool      `json:"ocrUsed"`
	Force          bool      `json:"force"`
}

type Result struct {
	Status     Status   `json:"status"`
	ChunkCount int      `json:"chunkCount"`
	Warnings   []string `json:"warnings,omitempty"`
}

// IndexCompleteEvent is published after every ingestion or deletion that
// changed a file's chunk set.
type IndexCompleteEvent struct {
	CourseID   string    `json:"courseId"`
	FileID     string    `json:"fileId"`
	ChunkCount int       `json:"chunkCount"`
	Status     Status    `json:"status"`
	Deleted    bool      `json:"deleted,omitempty"`
	At         time.Time `json:"at"`
}
