// Package store declares the durable persistence ports of the engine: the
// chunk store, which is the source of truth for every chunk, and the index
// metadata tracker. Concrete adapters live in the postgres and sqlite
// subpackages and are chosen at startup from configuration.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Course-Retrieval-Engine/internal/chunk"
)

// ChunkStore persists chunks. UpsertChunks is the only write path and it
// always validates; adapters back the same invariants with table
// constraints.
type ChunkStore interface {
	// UpsertChunks atomically replaces every chunk owned by fileID with
	// chunks. Concurrent calls for one file are serialised.
	UpsertChunks(ctx context.Context, fileID string, chunks []chunk.Chunk) error
	GetChunk(ctx context.Context, id string) (*chunk.Chunk, error)
	// GetChunks returns the chunks that exist among ids, in ids order.
	GetChunks(ctx context.Context, ids []string) ([]chunk.Chunk, error)
	ListByFile(ctx context.Context, fileID string) ([]chunk.Chunk, error)
	// ListByCourse scans a course; an empty kind matches every kind.
	ListByCourse(ctx context.Context, courseID string, kind chunk.Kind) ([]chunk.Chunk, error)
	FileIDs(ctx context.Context) ([]string, error)
	DeleteByFile(ctx context.Context, fileID string) (int, error)
	CountByCourseAndKind(ctx context.Context, courseID string) (map[chunk.Kind]int, error)
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// MetaStore reads and overwrites IndexMeta rows.
type MetaStore interface {
	GetMeta(ctx context.Context, courseID, fileID string) (*chunk.IndexMeta, error)
	UpsertMeta(ctx context.Context, meta chunk.IndexMeta) error
	ListMeta(ctx context.Context, courseID string) ([]chunk.IndexMeta, error)
	DeleteMeta(ctx context.Context, courseID, fileID string) error
}

// Backend is implemented by both adapters. DB and Bind let auxiliary
// tables, such as analytics snapshots, share the connection pool.
type Backend interface {
	ChunkStore
	MetaStore
	DB() *sql.DB
	Bind(n int) string
}

// BindQuestion renders SQLite placeholders.
func BindQuestion(int) string { return "?" }

// BindDollar renders PostgreSQL placeholders.
func BindDollar(n int) string { return fmt.Sprintf("$%d", n) }
