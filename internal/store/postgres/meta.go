package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

const metaColumns = `course_id, file_id, chunk_count, ocr_used, content_bytes, last_indexed, content_hash, index_stale`

func (s *Store) GetMeta(ctx context.Context, courseID, fileID string) (*chunk.IndexMeta, error) {
	row := s.client.DB.QueryRowContext(ctx,
		`SELECT `+metaColumns+` FROM index_meta WHERE course_id = $1 AND file_id = $2`, courseID, fileID)
	m, err := scanMeta(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("index meta for %s/%s", courseID, fileID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting index meta: %w", err)
	}
	return m, nil
}

// UpsertMeta overwrites the row for (course, file).
func (s *Store) UpsertMeta(ctx context.Context, m chunk.IndexMeta) error {
	if m.CourseID == "" || m.FileID == "" {
		return apperrors.NewValidationError(map[string]string{"meta": "course_id and file_id are required"})
	}
	if m.LastIndexed.IsZero() {
		m.LastIndexed = time.Now()
	}
	_, err := s.client.DB.ExecContext(ctx, `INSERT INTO index_meta (`+metaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (course_id, file_id) DO UPDATE SET
			chunk_count   = EXCLUDED.chunk_count,
			ocr_used      = EXCLUDED.ocr_used,
			content_bytes = EXCLUDED.content_bytes,
			last_indexed  = EXCLUDED.last_indexed,
			content_hash  = EXCLUDED.content_hash,
			index_stale   = EXCLUDED.index_stale`,
		m.CourseID, m.FileID, m.ChunkCount, m.OCRUsed, m.ContentBytes,
		m.LastIndexed.UTC(), m.ContentHash, m.IndexStale,
	)
	if err != nil {
		return fmt.Errorf("upserting index meta for %s/%s: %w", m.CourseID, m.FileID, err)
	}
	return nil
}

func (s *Store) ListMeta(ctx context.Context, courseID string) ([]chunk.IndexMeta, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT `+metaColumns+` FROM index_meta WHERE course_id = $1 ORDER BY file_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("listing index meta: %w", err)
	}
	defer rows.Close()
	var out []chunk.IndexMeta
	for rows.Next() {
		m, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning index meta: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMeta(ctx context.Context, courseID, fileID string) error {
	if _, err := s.client.DB.ExecContext(ctx,
		`DELETE FROM index_meta WHERE course_id = $1 AND file_id = $2`, courseID, fileID); err != nil {
		return fmt.Errorf("deleting index meta for %s/%s: %w", courseID, fileID, err)
	}
	return nil
}

func scanMeta(row scanner) (*chunk.IndexMeta, error) {
	var m chunk.IndexMeta
	if err := row.Scan(&m.CourseID, &m.FileID, &m.ChunkCount, &m.OCRUsed, &m.ContentBytes,
		&m.LastIndexed, &m.ContentHash, &m.IndexStale); err != nil {
		return nil, err
	}
	return &m, nil
}
