// Package validator checks ingestion requests before any store is touched
// and fills in derived fields.
package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

const (
	maxIDLength    = 255
	maxTitleLength = 1024
	maxSegments    = 100000
)

// ValidateRequest checks req and normalises it in place: ids and kind are
// trimmed, kind is lower-cased and a missing content hash is computed from
// the segment texts.
func ValidateRequest(req *ingestion.Request) error {
	errs := make(map[string]string)

	req.FileID = strings.TrimSpace(req.FileID)
	req.CourseID = strings.TrimSpace(req.CourseID)
	checkID(errs, "fileId", req.FileID)
	checkID(errs, "courseId", req.CourseID)

	if strings.TrimSpace(req.Kind) == "" {
		errs["kind"] = "kind is required"
	} else if kind, ok := chunk.ParseKind(req.Kind); !ok {
		errs["kind"] = fmt.Sprintf("kind %q must match [a-z0-9][a-z0-9_-]*", req.Kind)
	} else {
		req.Kind = string(kind)
	}

	req.Title = strings.TrimSpace(req.Title)
	if len(req.Title) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}

	switch {
	case len(req.Segments) == 0:
		errs["segments"] = "at least one segment is required"
	case len(req.Segments) > maxSegments:
		errs["segments"] = fmt.Sprintf("at most %d segments are allowed", maxSegments)
	}
	for i, seg := range req.Segments {
		if seg.Page != nil && *seg.Page < 0 {
			errs[fmt.Sprintf("segments[%d].page", i)] = "page must be >= 0"
		}
		if seg.Level < 0 {
			errs[fmt.Sprintf("segments[%d].level", i)] = "level must be >= 0"
		}
		for _, h := range seg.HeadingPath {
			if strings.TrimSpace(h) == "" {
				errs[fmt.Sprintf("segments[%d].headingPath", i)] = "heading path entries must not be blank"
				break
			}
		}
	}

	if len(errs) > 0 {
		return apperrors.NewValidationError(errs)
	}
	req.ContentHash = strings.TrimSpace(req.ContentHash)
	if req.ContentHash == "" {
		req.ContentHash = ContentHash(req.Segments)
	}
	return nil
}

// ContentHash fingerprints segment texts and structure. Each field is
// length-prefixed so that boundaries cannot shift between segments.
func ContentHash(segments []ingestion.Segment) string {
	h := sha256.New()
	write := func(s string) {
		fmt.Fprintf(h, "%d:%s", len(s), s)
	}
	for _, seg := range segments {
		write(seg.Text)
		write(seg.Heading)
		write(fmt.Sprint(seg.Level))
		write(strings.Join(seg.HeadingPath, "\x1f"))
		if seg.Page != nil {
			write(fmt.Sprint(*seg.Page))
		} else {
			write("")
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func checkID(errs map[string]string, field, v string) {
	switch {
	case v == "":
		errs[field] = field + " is required"
	case len(v) > maxIDLength:
		errs[field] = fmt.Sprintf("%s must be at most %d characters", field, maxIDLength)
	}
}
