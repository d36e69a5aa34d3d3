package analytics

import "time"

type EventType string

const (
	EventRetrieval EventType = "retrieval"
	EventIngest    EventType = "ingest"
)

// Tracker accepts analytics events without blocking the caller.
type Tracker interface {
	Track(event any)
}

type RetrievalEvent struct {
	Type          EventType `json:"type"`
	CourseID      string    `json:"course_id"`
	Query         string    `json:"query"`
	Limit         int       `json:"limit"`
	Returned      int       `json:"returned"`
	TopScore      float64   `json:"top_score"`
	LowConfidence bool      `json:"low_confidence"`
	Partial       bool      `json:"partial"`
	FailedKinds   []string  `json:"failed_kinds,omitempty"`
	CacheHit      bool      `json:"cache_hit"`
	LatencyMs     int64     `json:"latency_ms"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
}

type IngestEvent struct {
	Type       EventType `json:"type"`
	CourseID   string    `json:"course_id"`
	FileID     string    `json:"file_id"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	SizeBytes  int64     `json:"size_bytes"`
	LatencyMs  int64     `json:"latency_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewRetrievalEvent stamps the type and time.
func NewRetrievalEvent(e RetrievalEvent) RetrievalEvent {
	e.Type = EventRetrieval
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

func NewIngestEvent(e IngestEvent) IngestEvent {
	e.Type = EventIngest
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}
