// Package pgindex implements indexer.SearchIndex on PostgreSQL full-text
// search. Scores come from ts_rank_cd with normalisation 32, so every score
// lies in [0,1) and the result ceiling is 1.
package pgindex

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/indexer/pgindex/migrations"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
)

const migrationsTable = "chunk_search_migrations"

var _ indexer.SearchIndex = (*Index)(nil)

type Index struct {
	db           *sql.DB
	vectorWeight float64
	headline     string
	logger       *slog.Logger
}

// New wraps db. snippetWords bounds ts_headline fragments.
func New(db *sql.DB, vectorWeight float64, snippetWords int) *Index {
	if snippetWords <= 0 {
		snippetWords = 35
	}
	minWords := snippetWords / 3
	if minWords < 1 {
		minWords = 1
	}
	return &Index{
		db:           db,
		vectorWeight: vectorWeight,
		headline: fmt.Sprintf("MaxWords=%d, MinWords=%d, StartSel=\"\", StopSel=\"\", FragmentDelimiter=\" … \", MaxFragments=1",
			snippetWords, minWords),
		logger: slog.Default().With("component", "pg-index"),
	}
}

func (x *Index) Migrate(ctx context.Context) error {
	ms, err := store.LoadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	_, err = store.ApplyMigrations(ctx, x.db, migrationsTable, ms, store.BindDollar)
	return err
}

func (x *Index) IndexChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_search
		(chunk_id, course_id, file_id, kind, title, heading, heading_path, page, chunk_index, content, tsv, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, to_tsvector('english', $11), $12)
		ON CONFLICT (chunk_id) DO UPDATE SET
			course_id = EXCLUDED.course_id, file_id = EXCLUDED.file_id, kind = EXCLUDED.kind,
			title = EXCLUDED.title, heading = EXCLUDED.heading, heading_path = EXCLUDED.heading_path,
			page = EXCLUDED.page, chunk_index = EXCLUDED.chunk_index, content = EXCLUDED.content,
			tsv = EXCLUDED.tsv, embedding = EXCLUDED.embedding`)
	if err != nil {
		return fmt.Errorf("preparing index insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var heading sql.NullString
		if c.Heading != "" {
			heading = sql.NullString{String: c.Heading, Valid: true}
		}
		var page sql.NullInt64
		if c.Page != nil {
			page = sql.NullInt64{Int64: int64(*c.Page), Valid: true}
		}
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		path := c.HeadingPath
		if path == nil {
			path = []string{}
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.CourseID, c.FileID, string(c.Kind), c.Title, heading,
			pq.Array(path), page, c.ChunkIndex, c.Content, c.SearchText(), embedding); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing index batch: %w", err)
	}
	return nil
}

func (x *Index) DeleteByFile(ctx context.Context, fileID string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM chunk_search WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("deleting index entries for %s: %w", fileID, err)
	}
	return nil
}

func (x *Index) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := x.db.ExecContext(ctx,
		`DELETE FROM chunk_search WHERE chunk_id::text = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("deleting index entries: %w", err)
	}
	return nil
}

func (x *Index) Search(ctx context.Context, q indexer.Query) (*indexer.SearchResult, error) {
	if q.CourseID == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "course id is required")
	}
	tsquery := BuildTSQuery(parser.Parse(q.Text))
	if tsquery == "" {
		return &indexer.SearchResult{Hits: []indexer.ScoredHit{}}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	weight := 0.0
	var embedding any
	if x.vectorWeight > 0 && len(q.Embedding) > 0 {
		weight = x.vectorWeight
		embedding = pgvector.NewVector(q.Embedding)
	}

	rows, err := x.db.QueryContext(ctx, `
		WITH q AS (SELECT to_tsquery('english', $1) AS query)
		SELECT chunk_id::text, course_id, file_id, kind, title, heading, heading_path, page, chunk_index,
			(1 - $7::float8) * ts_rank_cd(tsv, q.query, 32)
				+ $7::float8 * COALESCE(GREATEST(0, 1 - (embedding <=> $6::vector)), 0) AS score,
			ts_headline('english', content, q.query, $8) AS snippet,
			COUNT(*) OVER () AS total
		FROM chunk_search, q
		WHERE tsv @@ q.query
			AND course_id = $2
			AND ($3::text = '' OR kind = $3::text)
			AND ($4::text = '' OR file_id = $4::text)
		ORDER BY score DESC, chunk_index ASC, chunk_id ASC
		LIMIT $5 OFFSET $9`,
		tsquery, q.CourseID, string(q.Kind), q.FileID, limit, embedding, weight, x.headline, offset)
	if err != nil {
		return nil, fmt.Errorf("searching chunk_search: %w", err)
	}
	defer rows.Close()

	res := &indexer.SearchResult{Hits: []indexer.ScoredHit{}, MaxScore: 1}
	for rows.Next() {
		var (
			h       indexer.ScoredHit
			kind    string
			heading sql.NullString
			path    []string
			page    sql.NullInt64
		)
		if err := rows.Scan(&h.ChunkID, &h.CourseID, &h.FileID, &kind, &h.Title, &heading, pq.Array(&path),
			&page, &h.ChunkIndex, &h.Score, &h.Snippet, &res.Total); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		h.Kind = chunk.Kind(kind)
		h.Heading = heading.String
		if len(path) > 0 {
			h.HeadingPath = path
		}
		if page.Valid {
			p := int(page.Int64)
			h.Page = &p
		}
		res.Hits = append(res.Hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search hits: %w", err)
	}
	return res, nil
}

func (x *Index) Stats(ctx context.Context) (indexer.Stats, error) {
	var s indexer.Stats
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunk_search`).Scan(&s.Chunks); err != nil {
		return s, fmt.Errorf("counting index entries: %w", err)
	}
	return s, nil
}

// BuildTSQuery renders a plan as an english to_tsquery expression:
// OR-joined words, each exclusion ANDed as a negation. Words contain only
// letters and digits, so no quoting is needed.
func BuildTSQuery(plan *parser.QueryPlan) string {
	if len(plan.Words) == 0 {
		return ""
	}
	q := "(" + strings.Join(plan.Words, " | ") + ")"
	for _, w := range plan.ExcludeWords {
		q += " & !" + w
	}
	return q
}
