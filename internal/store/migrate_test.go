package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.up.sql":  {Data: []byte("SELECT 10;")},
		"002_second.up.sql": {Data: []byte("SELECT 2;")},
		"README.md":         {Data: []byte("ignored")},
	}
	ms, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, 2, ms[0].Version)
	assert.Equal(t, "second", ms[0].Name)
	assert.Equal(t, 10, ms[1].Version)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"first.up.sql": {Data: []byte("")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.up.sql": {Data: []byte("")},
		"1_b.up.sql":   {Data: []byte("")},
	})
	assert.Error(t, err)
}

func TestApplyMigrationsOnce(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	bind := func(int) string { return "?" }

	ms := []Migration{
		{Version: 1, Name: "things", SQL: "CREATE TABLE things (id INTEGER PRIMARY KEY)"},
		{Version: 2, Name: "more", SQL: "ALTER TABLE things ADD COLUMN label TEXT"},
	}
	n, err := ApplyMigrations(ctx, db, MigrationsTable, ms, bind)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ApplyMigrations(ctx, db, MigrationsTable, ms, bind)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = ApplyMigrations(ctx, db, "other_migrations", ms[:1], bind)
	require.Error(t, err, "a separate history re-runs version 1")
	assert.Zero(t, n)
}

func TestApplyMigrationsRollsBackFailedStep(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	_, err = ApplyMigrations(ctx, db, MigrationsTable, []Migration{
		{Version: 1, Name: "broken", SQL: "CREATE TABLE nope ("},
	}, func(int) string { return "?" })
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+MigrationsTable).Scan(&count))
	assert.Zero(t, count)
}
