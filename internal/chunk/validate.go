package chunk

import (
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

// Validate checks the invariants every persisted chunk must hold.
func (c Chunk) Validate() error {
	fields := make(map[string]string)
	c.collect("", fields)
	return apperrors.NewValidationError(fields)
}

func (c Chunk) collect(prefix string, fields map[string]string) {
	if strings.TrimSpace(c.ID) == "" {
		fields[prefix+"id"] = "id is required"
	}
	if strings.TrimSpace(c.CourseID) == "" {
		fields[prefix+"course_id"] = "course_id is required"
	}
	if strings.TrimSpace(c.FileID) == "" {
		fields[prefix+"file_id"] = "file_id is required"
	}
	if strings.TrimSpace(c.Content) == "" {
		fields[prefix+"content"] = "content must not be empty"
	}
	if strings.TrimSpace(c.Title) == "" {
		fields[prefix+"title"] = "title must not be empty"
	}
	if c.Kind == "" {
		fields[prefix+"kind"] = "kind is required"
	} else if !c.Kind.Valid() {
		fields[prefix+"kind"] = fmt.Sprintf("kind %q is not a valid tag", c.Kind)
	}
	if c.Heading != "" && strings.TrimSpace(c.Heading) == "" {
		fields[prefix+"heading"] = "heading must not be blank when present"
	}
	for i, h := range c.HeadingPath {
		if strings.TrimSpace(h) == "" {
			fields[fmt.Sprintf("%sheading_path[%d]", prefix, i)] = "heading path entries must not be blank"
			break
		}
	}
	if c.Page != nil && *c.Page < 0 {
		fields[prefix+"page"] = "page must be >= 0"
	}
	if c.ChunkIndex < 0 {
		fields[prefix+"chunk_index"] = "chunk_index must be >= 0"
	}
	for _, v := range c.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			fields[prefix+"embedding"] = "embedding must be finite"
			break
		}
	}
}

// ValidateBatch validates a replacement set for one file. Besides the
// per-chunk invariants it requires a non-empty set owned by fileID and a
// single course, with unique ids and chunk indexes.
func ValidateBatch(fileID string, chunks []Chunk) error {
	fields := make(map[string]string)
	if strings.TrimSpace(fileID) == "" {
		fields["file_id"] = "file_id is required"
	}
	if len(chunks) == 0 {
		fields["chunks"] = "at least one chunk is required"
	}
	ids := make(map[string]int, len(chunks))
	indexes := make(map[int]int, len(chunks))
	var courseID string
	for i, c := range chunks {
		prefix := fmt.Sprintf("chunks[%d].", i)
		c.collect(prefix, fields)
		if c.FileID != fileID {
			fields[prefix+"file_id"] = fmt.Sprintf("chunk belongs to %q, not %q", c.FileID, fileID)
		}
		if i == 0 {
			courseID = c.CourseID
		} else if c.CourseID != courseID {
			fields[prefix+"course_id"] = "all chunks of a file must share one course"
		}
		if j, dup := ids[c.ID]; dup && c.ID != "" {
			fields[prefix+"id"] = fmt.Sprintf("duplicate of chunks[%d]", j)
		}
		ids[c.ID] = i
		if j, dup := indexes[c.ChunkIndex]; dup {
			fields[prefix+"chunk_index"] = fmt.Sprintf("duplicate of chunks[%d]", j)
		}
		indexes[c.ChunkIndex] = i
	}
	return apperrors.NewValidationError(fields)
}
