package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

// MigrationsTable records the chunk store schema version.
const MigrationsTable = "schema_migrations"

// Migration is one versioned schema step loaded from an NNN_name.up.sql
// file.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations reads every *.up.sql file in fsys, ordered by version.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}
	var out []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		base := strings.TrimSuffix(name, ".up.sql")
		num, label, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: expected NNN_name.up.sql", name)
		}
		version, err := strconv.Atoi(num)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", name, num)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, version)
		}
		seen[version] = name
		body, err := fs.ReadFile(fsys, path.Clean(name))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: label, SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ApplyMigrations runs every migration newer than the recorded schema
// version, each in its own transaction together with its bookkeeping row.
// Re-running it is a no-op. table names the bookkeeping table, so
// independent schemas sharing a database keep separate version histories.
// bind renders the n-th (1-based) placeholder for the driver's dialect.
func ApplyMigrations(ctx context.Context, db *sql.DB, table string, migrations []Migration, bind func(n int) string) (int, error) {
	logger := slog.Default().With("component", "migrate", "table", table)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("creating %s: %w", table, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+table)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning schema version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (version, name, applied_at) VALUES (%s, %s, CURRENT_TIMESTAMP)`,
		table, bind(1), bind(2),
	)
	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return count, fmt.Errorf("beginning migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("applying migration %d_%s: %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, insert, m.Version, m.Name); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return count, fmt.Errorf("committing migration %d: %w", m.Version, err)
		}
		logger.Info("migration applied", "version", m.Version, "name", m.Name)
		count++
	}
	return count, nil
}
