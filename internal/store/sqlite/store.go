// Package sqlite implements the chunk store and index metadata tracker on
// an embedded SQLite database (modernc.org/sqlite, no cgo). It serves
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/store/sqlite/migrations"
	apperrors "github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/pkg/errors"
	_ "modernc.org/sqlite"
)

const chunkColumns = `id, course_id, file_id, title, heading, heading_path, content, page,
	chunk_index, kind, source_platform, embedding, created_at`

var _ store.Backend = (*Store)(nil)

// Store is the SQLite chunk store. SQLite admits one writer at a time, and
// write transactions are opened IMMEDIATE, which gives UpsertChunks its
// per-file exclusion.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates or opens the database at path. Use ":memory:" only for
// throwaway stores; each pooled connection would see its own database, so
// the pool is pinned to one connection in that case.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "sqlite-store"),
		now:    time.Now,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	ms, err := store.LoadMigrations(migrations.FS)
	if err != nil {
		return err
	}
	n, err := store.ApplyMigrations(ctx, s.db, store.MigrationsTable, ms, store.BindQuestion)
	if err != nil {
		return err
	}
	s.logger.Debug("schema up to date", "applied", n)
	return nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Bind(n int) string { return store.BindQuestion(n) }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertChunks deletes the file's chunks that are not in the new set and
// inserts the new ones in one transaction. Unchanged chunks keep their row
// and created_at.
func (s *Store) UpsertChunks(ctx context.Context, fileID string, chunks []chunk.Chunk) error {
	if err := chunk.ValidateBatch(fileID, chunks); err != nil {
		return err
	}
	createdAt := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ids, err := idList(chunk.IDs(chunks))
	if err != nil {
		return err
	}
	// The id set travels as one JSON argument, so file size is not bounded
	// by SQLite's host parameter limit.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE file_id = ? AND id NOT IN (SELECT value FROM json_each(?))`,
		fileID, ids,
	); err != nil {
		return fmt.Errorf("deleting stale chunks for %s: %w", fileID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		headingPath, err := json.Marshal(nonNil(c.HeadingPath))
		if err != nil {
			return fmt.Errorf("encoding heading path: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.CourseID, c.FileID, c.Title, nullString(c.Heading), string(headingPath),
			c.Content, nullPage(c.Page), c.ChunkIndex, string(c.Kind), nullString(c.SourcePlatform),
			encodeEmbedding(c.Embedding), createdAt,
		); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks for %s: %w", fileID, err)
	}
	return nil
}

func (s *Store) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
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
	list, err := idList(ids)
	if err != nil {
		return nil, err
	}
	found, err := s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id IN (SELECT value FROM json_each(?))`, list)
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
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
}

func (s *Store) ListByCourse(ctx context.Context, courseID string, kind chunk.Kind) ([]chunk.Chunk, error) {
	if kind == "" {
		return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE course_id = ? ORDER BY file_id, chunk_index`, courseID)
	}
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE course_id = ? AND kind = ? ORDER BY file_id, chunk_index`, courseID, string(kind))
}

func (s *Store) FileIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_id FROM chunks ORDER BY file_id`)
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
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", fileID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted chunks: %w", err)
	}
	return int(n), nil
}

func (s *Store) CountByCourseAndKind(ctx context.Context, courseID string) (map[chunk.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM chunks WHERE course_id = ? GROUP BY kind`, courseID)
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
	rows, err := s.db.QueryContext(ctx, q, args...)
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
		headingPath    string
		page           sql.NullInt64
		kind           string
		sourcePlatform sql.NullString
		embedding      []byte
		createdAt      string
	)
	if err := row.Scan(&c.ID, &c.CourseID, &c.FileID, &c.Title, &heading, &headingPath,
		&c.Content, &page, &c.ChunkIndex, &kind, &sourcePlatform, &embedding, &createdAt); err != nil {
		return nil, err
	}
	c.Heading = heading.String
	c.Kind = chunk.Kind(kind)
	c.SourcePlatform = sourcePlatform.String
	if page.Valid {
		p := int(page.Int64)
		c.Page = &p
	}
	if headingPath != "" && headingPath != "[]" {
		if err := json.Unmarshal([]byte(headingPath), &c.HeadingPath); err != nil {
			return nil, fmt.Errorf("decoding heading path: %w", err)
		}
	}
	c.Embedding = decodeEmbedding(embedding)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return &c, nil
}

// idList encodes ids as a JSON array for json_each.
func idList(ids []string) (string, error) {
	data, err := json.Marshal(nonNil(ids))
	if err != nil {
		return "", fmt.Errorf("encoding id list: %w", err)
	}
	return string(data), nil
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

// encodeEmbedding stores a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
