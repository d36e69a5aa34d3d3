// Package chunk defines the persisted unit of retrieval, its provenance
// kinds, and the per-file ingestion summary tracked alongside it.
package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags a chunk's provenance category.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindPlatform Kind = "platform"
	KindUnknown  Kind = "unknown"
)

var kindPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Valid reports whether k is a well-formed kind tag.
func (k Kind) Valid() bool {
	return kindPattern.MatchString(string(k))
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind normalises s and validates it.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Chunk is a contiguous fragment of a source document.
type Chunk struct {
	ID             string    `json:"id"`
	CourseID       string    `json:"course_id"`
	FileID         string    `json:"file_id"`
	Title          string    `json:"title"`
	Heading        string    `json:"heading,omitempty"`
	HeadingPath    []string  `json:"heading_path,omitempty"`
	Content        string    `json:"content"`
	Page           *int      `json:"page,omitempty"`
	ChunkIndex     int       `json:"chunk_index"`
	Kind           Kind      `json:"kind"`
	SourcePlatform string    `json:"source_platform,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SearchText is the text a search index covers: the heading path followed
// by the body.
func (c Chunk) SearchText() string {
	if len(c.HeadingPath) == 0 {
		return c.Content
	}
	return strings.Join(c.HeadingPath, " ") + "\n" + c.Content
}

// PageOf returns a pointer to p, for building chunks with a page number.
func PageOf(p int) *int {
	return &p
}

// idNamespace scopes StableID so ids never collide with random UUIDs.
var idNamespace = uuid.MustParse("8d7e2f0c-4a51-4c7b-9a1e-6f3b2d9c0e14")

// StableID derives the chunk id from everything stored about it. The
// embedding contributes only its dimension, so an unchanged chunk keeps its
// id across re-ingestion while gaining, losing or resizing a vector produces
// a new row instead of an in-place update.
func StableID(c Chunk) string {
	h := sha256.New()
	field := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	field(c.CourseID)
	field(c.FileID)
	field(strconv.Itoa(c.ChunkIndex))
	field(string(c.Kind))
	field(c.Title)
	field(c.Heading)
	field(strings.Join(c.HeadingPath, "\x1f"))
	if c.Page != nil {
		field(strconv.Itoa(*c.Page))
	} else {
		field("")
	}
	field(c.SourcePlatform)
	field(c.Content)
	field(strconv.Itoa(len(c.Embedding)))
	return uuid.NewSHA1(idNamespace, h.Sum(nil)).String()
}

// ContentBytes sums the byte length of every chunk's content.
func ContentBytes(chunks []Chunk) int64 {
	var n int64
	for _, c := range chunks {
		n += int64(len(c.Content))
	}
	return n
}

// IDs returns the chunk ids in order.
func IDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// IndexMeta summarises the ingestion state of one (course, file) pair.
// IndexStale is set when the chunk store holds a newer set than the search
// index managed to accept.
type IndexMeta struct {
	CourseID     string    `json:"course_id"`
	FileID       string    `json:"file_id"`
	ChunkCount   int       `json:"chunk_count"`
	OCRUsed      bool      `json:"ocr_used"`
	ContentBytes int64     `json:"content_bytes"`
	LastIndexed  time.Time `json:"last_indexed"`
	ContentHash  string    `json:"content_hash,omitempty"`
	IndexStale   bool      `json:"index_stale"`
}
