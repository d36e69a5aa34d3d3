// Package postgres implements the chunk store and index metadata tracker on
// PostgreSQL. Embeddings are kept in a pgvector column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store/postgres/migrations"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	pgclient "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/postgres"
)

const chunkColumns = `id, course_id, file_id, title, heading, heading_path, content, page,
	chunk_index, kind, source_platform, embedding::text, created_at`

var _ store.Backend = (*Store)(nil)

type Store struct {
	client *pgclient.Client
	logger *slog.Logger
}

func New(client *pgclient.Client) *Store {
	return &Store{
		client: client,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// DB exposes the pool for components that share it, such as the
// full-text search index.
func (s *Store) DB() *sql.DB {
	return s.client.DB
}

func (s *Store) Bind(n int) string { return store.BindDollar(n) }

func (s *Store) Migrate(ctx context.Context) error {
	ms, err := store.LoadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	n, err := store.ApplyMigrations(ctx, s.client.DB, store.MigrationsTable, ms, store.BindDollar)
	if err != nil {
		return err
	}
	s.logger.Debug("schema up to date", "applied", n)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() error {
	return s.client.Close()
}

// UpsertChunks replaces the file's chunk set in one transaction. Writers
// for the same file queue on a transaction-scoped advisory lock.
func (s *Store) UpsertChunks(ctx context.Context, fileID string, chunks []chunk.Chunk) error {
	if err := chunk.ValidateBatch(fileID, chunks); err != nil {
		return err
	}
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		if err := pgclient.LockFile(ctx, tx, fileID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE file_id = $1 AND id <> ALL($2::uuid[])`,
			fileID, pq.Array(chunk.IDs(chunks)),
		); err != nil {
			return fmt.Errorf("deleting stale chunks for %s: %w", fileID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks
			(id, course_id, file_id, title, heading, heading_path, content, page,
			 chunk_index, kind, source_platform, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			ON CONFLICT (id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.CourseID, c.FileID, c.Title, nullString(c.Heading), pq.Array(nonNil(c.HeadingPath)),
				c.Content, nullPage(c.Page), c.ChunkIndex, string(c.Kind), nullString(c.SourcePlatform),
				vectorValue(c.Embedding),
			); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	row := s.client.DB.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id::text = $1`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFoundf("chunk %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := s.query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id::text = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]chunk.Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	out := make([]chunk.Chunk, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *Store) ListByFile(ctx context.Context, fileID string) ([]chunk.Chunk, error) {
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE file_id = $1 ORDER BY chunk_index`, fileID)
}

func (s *Store) ListByCourse(ctx context.Context, courseID string, kind chunk.Kind) ([]chunk.Chunk, error) {
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks
		WHERE course_id = $1 AND ($2::text = '' OR kind = $2::text)
		ORDER BY file_id, chunk_index`, courseID, string(kind))
}

func (s *Store) FileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.client.DB.QueryContext(ctx, `SELECT DISTINCT file_id FROM chunks ORDER BY file_id`)
	if err != nil {
		return nil, fmt.Errorf("listing file ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning file id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	var n int64
	err := s.client.InTx(ctx, func(tx *sql.Tx) error {
		if err := pgclient.LockFile(ctx, tx, fileID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
		if err != nil {
			return fmt.Errorf("deleting chunks for %s: %w", fileID, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *Store) CountByCourseAndKind(ctx context.Context, courseID string) (map[chunk.Kind]int, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM chunks WHERE course_id = $1 GROUP BY kind`, courseID)
	if err != nil {
		return nil, fmt.Errorf("counting chunks for %s: %w", courseID, err)
	}
	defer rows.Close()
	counts := make(map[chunk.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[chunk.Kind(kind)] = n
	}
	return counts, rows.Err()
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]chunk.Chunk, error) {
	rows, err := s.client.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()
	var out []chunk.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*chunk.Chunk, error) {
	var (
		c              chunk.Chunk
		heading        sql.NullString
		headingPath    []string
		page           sql.NullInt64
		kind           string
		sourcePlatform sql.NullString
		embedding      sql.NullString
		createdAt      time.Time
	)
	if err := row.Scan(&c.ID, &c.CourseID, &c.FileID, &c.Title, &heading, pq.Array(&headingPath),
		&c.Content, &page, &c.ChunkIndex, &kind, &sourcePlatform, &embedding, &createdAt); err != nil {
		return nil, err
	}
	c.Heading = heading.String
	if len(headingPath) > 0 {
		c.HeadingPath = headingPath
	}
	c.Kind = chunk.Kind(kind)
	c.SourcePlatform = sourcePlatform.String
	if page.Valid {
		p := int(page.Int64)
		c.Page = &p
	}
	if embedding.Valid {
		var v pgvector.Vector
		if err := v.Scan(embedding.String); err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
		c.Embedding = v.Slice()
	}
	c.CreatedAt = createdAt
	return &c, nil
}

func vectorValue(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullPage(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
